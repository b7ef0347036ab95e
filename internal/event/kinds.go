package event

// Event kinds the cache understands. Anything else is stored as a plain note.
const (
	KindMetadata        = 0
	KindTextNote        = 1
	KindContactList     = 3
	KindEncryptedDM     = 4
	KindDeletion        = 5
	KindRepost          = 6
	KindReaction        = 7
	KindChannelCreate   = 40
	KindChannelMetadata = 41
	KindChannelMessage  = 42
	KindFileHeader      = 1063
	KindReport          = 1984
	KindZapRequest      = 9734
	KindZapReceipt      = 9735
	KindRelayList       = 10002
	KindLongForm        = 30023
)

// IsReplaceable reports whether only the newest event per author and kind matters
func IsReplaceable(kind int) bool {
	return kind == KindMetadata || kind == KindContactList || (kind >= 10000 && kind < 20000)
}

// IsInteraction reports whether the kind attaches to another note rather than standing alone
func IsInteraction(kind int) bool {
	switch kind {
	case KindRepost, KindReaction, KindZapRequest, KindZapReceipt, KindReport, KindDeletion:
		return true
	}
	return false
}
