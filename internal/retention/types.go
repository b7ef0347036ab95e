package retention

import (
	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/event"
)

// Decision records which rule settled a prune candidate
type Decision struct {
	NoteID       string
	RuleName     string
	RulePriority int
	Prune        bool
}

// Rule names used by DefaultRules
const (
	RuleKeepOwn      = "keep_own"
	RuleKeepFollowed = "keep_followed"
	RuleKeepReplied  = "keep_with_replies"
	RulePruneHidden  = "prune_hidden"
	RulePruneReadDMs = "prune_read_dms"
	RulePruneExpired = "prune_past_horizon"
	RuleDefaultKeep  = "default_keep"
)

const (
	defaultHorizonHrs = 168
	defaultDMHorizon  = 24
)

// DefaultRules is the rule set applied after any configured rules. Read DMs
// past their horizon go first so both sides of a conversation age out
// together, and hidden authors go before follows so following someone never
// shields a muted account.
func DefaultRules(horizonHours, dmHorizonHours int) []config.RetentionRule {
	if horizonHours <= 0 {
		horizonHours = defaultHorizonHrs
	}
	if dmHorizonHours <= 0 {
		dmHorizonHours = defaultDMHorizon
	}

	return []config.RetentionRule{
		{
			Name:     RulePruneReadDMs,
			Priority: 1100,
			Conditions: config.RuleConditions{
				Kinds:       []int{event.KindEncryptedDM},
				IsRead:      true,
				AgeHoursMin: dmHorizonHours,
			},
			Action: config.RuleAction{Prune: true},
		},
		{
			Name:       RuleKeepOwn,
			Priority:   1000,
			Conditions: config.RuleConditions{AuthorIsOwner: true},
			Action:     config.RuleAction{Keep: true},
		},
		{
			Name:       RulePruneHidden,
			Priority:   900,
			Conditions: config.RuleConditions{AuthorIsHidden: true},
			Action:     config.RuleAction{Prune: true},
		},
		{
			Name:       RuleKeepFollowed,
			Priority:   700,
			Conditions: config.RuleConditions{AuthorIsFollowing: true},
			Action:     config.RuleAction{Keep: true},
		},
		{
			Name:       RuleKeepReplied,
			Priority:   600,
			Conditions: config.RuleConditions{ReplyCountMin: 1},
			Action:     config.RuleAction{Keep: true},
		},
		{
			Name:       RulePruneExpired,
			Priority:   500,
			Conditions: config.RuleConditions{AgeHoursMin: horizonHours},
			Action:     config.RuleAction{Prune: true},
		},
	}
}
