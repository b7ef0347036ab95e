package cache

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/notecache/internal/entities"
	"github.com/sandwichfarm/notecache/internal/event"
)

// relinkAttempts bounds retries when pruning removes a note mid-link
const relinkAttempts = 3

// Ingest upserts one event delivered by relayURL. It never fails: events the
// store cannot link are counted and logged, then dropped.
func (s *Store) Ingest(ev *nostr.Event, relayURL string) {
	s.ingest(ev, relayURL)
}

// IngestBatch ingests events and then flushes, so every entity touched by the
// batch is notified at most once for it.
func (s *Store) IngestBatch(events []*nostr.Event, relayURL string) {
	s.batching.Add(1)
	for _, ev := range events {
		s.ingest(ev, relayURL)
	}
	s.batching.Add(-1)
	s.Flush()
}

func (s *Store) recordError(ev *nostr.Event, relayURL string, err error) {
	s.errors.Inc()
	if !s.errLimiter.Allow() {
		return
	}
	id, kind := "", -1
	if ev != nil {
		id, kind = ev.ID, ev.Kind
	}
	s.logger.LogIngestError(id, kind, relayURL, err)
}

func (s *Store) ingest(ev *nostr.Event, relayURL string) {
	v, err := event.Parse(ev)
	if err != nil {
		s.recordError(ev, relayURL, err)
		return
	}

	// profile-like replaceables live on the user, not in the note graph
	switch x := v.(type) {
	case *event.Metadata:
		u := s.GetOrCreateUser(ev.PubKey)
		u.mutate(s, func() bool { return u.setMetadata(x) })
		return
	case *event.RelayListEvent:
		u := s.GetOrCreateUser(ev.PubKey)
		u.mutate(s, func() bool { return u.setRelayList(x) })
		return
	}

	root := ""
	if tn, ok := v.(*event.TextNote); ok && tn.Thread.IsReply() {
		root = tn.Thread.RootEventID
	}

	note, fresh := s.promote(ev, root, relayURL)
	if !fresh {
		return
	}

	author := s.GetOrCreateUser(ev.PubKey)
	author.mutate(s, func() bool { return author.addNote(ev.ID) })

	if s.applyPendingDeletion(note, ev) {
		return
	}

	switch x := v.(type) {
	case *event.TextNote:
		for _, parentID := range x.Thread.ReplyTargets() {
			s.link(note, parentID, func(p *Note) bool { return addTo(p.replies, note) })
		}
		for _, pk := range x.Mentions {
			s.GetOrCreateUser(pk)
		}
		s.touchReferences(ev.Content)

	case *event.Reaction:
		s.link(note, x.Target, func(p *Note) bool { return addTo(p.reactions, note) })
		if x.TargetAuthor != "" {
			s.GetOrCreateUser(x.TargetAuthor)
		}

	case *event.Repost:
		s.link(note, x.Target, func(p *Note) bool { return addTo(p.boosts, note) })
		if x.TargetAuthor != "" {
			s.GetOrCreateUser(x.TargetAuthor)
		}

	case *event.Report:
		if x.TargetNote != "" {
			s.link(note, x.TargetNote, func(p *Note) bool { return addTo(p.reports, note) })
		}
		if x.TargetUser != "" {
			u := s.GetOrCreateUser(x.TargetUser)
			u.mutate(s, func() bool { return addTo(u.reports, note) })
		}

	case *event.ZapRequest:
		s.GetOrCreateUser(x.Recipient)
		receipt, _ := s.receipts.Load(note.IDHex)
		for _, target := range x.Targets {
			s.link(note, target, func(p *Note) bool { return p.addZap(note, receipt) })
		}

	case *event.ZapReceipt:
		s.ingestZapReceipt(note, x)

	case *event.Deletion:
		for _, target := range x.Targets {
			s.applyDeletion(target, ev.PubKey)
		}

	case *event.ContactList:
		u := author
		u.mutate(s, func() bool { return u.setContactList(x) })
		for _, pk := range x.Follows {
			s.GetOrCreateUser(pk)
		}

	case *event.DirectMessage:
		s.GetOrCreateUser(x.Recipient)

	case *event.ChannelMessage:
		s.link(note, x.Channel, func(p *Note) bool { return addTo(p.replies, note) })
	}
}

// promote stores ev on its note. fresh is false when the event was already known,
// in which case only the delivering relay is recorded.
func (s *Store) promote(ev *nostr.Event, root, relayURL string) (note *Note, fresh bool) {
	for i := 0; i < relinkAttempts; i++ {
		note = s.GetOrCreateNote(ev.ID)
		_, alive := note.mutate(s, func() bool {
			fresh = note.setEvent(ev, root)
			relayAdded := note.addRelay(relayURL)
			return fresh || relayAdded
		})
		if alive {
			return note, fresh
		}
		s.evict(note)
	}
	return note, false
}

// link attaches child under parentID with add, retrying if the parent instance
// was pruned between lookup and lock.
func (s *Store) link(child *Note, parentID string, add func(p *Note) bool) {
	if parentID == child.IDHex {
		return
	}
	for i := 0; i < relinkAttempts; i++ {
		parent := s.GetOrCreateNote(parentID)
		if _, alive := parent.mutate(s, func() bool { return add(parent) }); alive {
			// parent edges are bookkeeping, not a visible change
			child.mutate(s, func() bool {
				child.parents[parentID] = struct{}{}
				return false
			})
			return
		}
		s.evict(parent)
	}
}

func (s *Store) ingestZapReceipt(receipt *Note, x *event.ZapReceipt) {
	requestID := x.RequestID()
	request := s.GetOrCreateNote(requestID)

	// The receipt was verified upstream and the lightning service checked the
	// embedded request, so a placeholder request can be filled from it.
	request.mutate(s, func() bool { return request.setEvent(x.Request, "") })
	if request.AuthorPubkey() == x.Request.PubKey {
		requester := s.GetOrCreateUser(x.Request.PubKey)
		requester.mutate(s, func() bool { return requester.addNote(requestID) })
	}
	if x.Recipient != "" {
		s.GetOrCreateUser(x.Recipient)
	}

	// first receipt for a request wins
	paired, _ := s.receipts.LoadOrStore(requestID, receipt)

	for _, target := range x.Targets {
		s.link(request, target, func(p *Note) bool { return p.addZap(request, paired) })
		s.link(receipt, target, func(*Note) bool { return false })
	}

	// retry every still-pending request on the zapped notes
	for _, target := range x.Targets {
		parent, ok := s.notes.Load(target)
		if !ok {
			continue
		}
		for _, pending := range parent.pendingZapRequests() {
			match, ok := s.receipts.Load(pending.IDHex)
			if !ok {
				continue
			}
			parent.mutate(s, func() bool { return parent.addZap(pending, match) })
		}
	}
}

func (s *Store) applyDeletion(targetID, deleter string) {
	target, ok := s.notes.Load(targetID)
	if ok && target.AuthorPubkey() != "" {
		if target.AuthorPubkey() == deleter {
			s.deleteNote(target)
		}
		return
	}

	// target not received yet; remember who asked so its arrival can be checked
	s.deletes.Compute(targetID, func(deleters []string, _ bool) ([]string, bool) {
		for _, d := range deleters {
			if d == deleter {
				return deleters, false
			}
		}
		return append(deleters, deleter), false
	})
}

// applyPendingDeletion reports whether ev was retracted before it arrived
func (s *Store) applyPendingDeletion(note *Note, ev *nostr.Event) bool {
	deleters, ok := s.deletes.Load(ev.ID)
	if !ok {
		return false
	}
	for _, d := range deleters {
		if d == ev.PubKey {
			s.deletes.Delete(ev.ID)
			s.deleteNote(note)
			return true
		}
	}
	return false
}

// deleteNote clears the note's event but keeps the node so references stay valid.
// Its interaction edges are withdrawn from the notes it was attached to.
func (s *Store) deleteNote(n *Note) {
	var parents []string
	n.mutate(s, func() bool {
		if n.deleted {
			return false
		}
		n.deleted = true
		n.event = nil
		for id := range n.parents {
			parents = append(parents, id)
		}
		return true
	})

	for _, id := range parents {
		if p, ok := s.notes.Load(id); ok {
			p.mutate(s, func() bool {
				changed, _ := p.unlinkChild(n)
				return changed
			})
		}
	}
}

// touchReferences creates placeholders for notes and users quoted with nostr: URIs
func (s *Store) touchReferences(content string) {
	for _, ref := range entities.ExtractReferences(content) {
		if ref.IsEvent() {
			s.GetOrCreateNote(ref.EventID)
		}
		if ref.Pubkey != "" {
			s.GetOrCreateUser(ref.Pubkey)
		}
	}
}
