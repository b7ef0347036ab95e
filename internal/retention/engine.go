package retention

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sandwichfarm/notecache/internal/cache"
	"github.com/sandwichfarm/notecache/internal/config"
	"github.com/sandwichfarm/notecache/internal/ops"
)

// Engine evaluates prune candidates against prioritized rules. It satisfies
// cache.Policy, so the store can ask it which notes an age-based pass may drop.
type Engine struct {
	sortedRules []config.RetentionRule
	logger      *ops.Logger
}

// NewEngine builds an engine from the configured rules plus DefaultRules
func NewEngine(cfg *config.Retention, logger *ops.Logger) *Engine {
	rules := make([]config.RetentionRule, 0, len(cfg.Rules)+6)
	rules = append(rules, cfg.Rules...)
	rules = append(rules, DefaultRules(cfg.HorizonHours, cfg.DMHorizonHours)...)

	// stable so configured rules win ties against the defaults
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	return &Engine{
		sortedRules: rules,
		logger:      logger.WithComponent("retention"),
	}
}

// Rules returns the effective rules in evaluation order
func (e *Engine) Rules() []config.RetentionRule {
	return append([]config.RetentionRule(nil), e.sortedRules...)
}

// ShouldPrune implements cache.Policy
func (e *Engine) ShouldPrune(c cache.Candidate) bool {
	return e.Evaluate(c).Prune
}

// Evaluate runs the rules in priority order and returns the first match.
// Nothing matching means the note stays.
func (e *Engine) Evaluate(c cache.Candidate) Decision {
	for _, rule := range e.sortedRules {
		if !e.evaluateConditions(c, rule.Conditions) {
			continue
		}
		d := Decision{
			NoteID:       c.Note.IDHex,
			RuleName:     rule.Name,
			RulePriority: rule.Priority,
			Prune:        rule.Action.Prune && !rule.Action.Keep,
		}
		if d.Prune && e.logger.IsDebugEnabled() {
			e.logger.Debug("prune decision", "note_id", d.NoteID, "rule", d.RuleName)
		}
		return d
	}

	return Decision{NoteID: c.Note.IDHex, RuleName: RuleDefaultKeep}
}

func (e *Engine) evaluateConditions(c cache.Candidate, conditions config.RuleConditions) bool {
	if conditions.All {
		return true
	}

	if len(conditions.And) > 0 {
		for _, sub := range conditions.And {
			if !e.evaluateConditions(c, sub) {
				return false
			}
		}
		return true
	}

	if len(conditions.Or) > 0 {
		for _, sub := range conditions.Or {
			if e.evaluateConditions(c, sub) {
				return true
			}
		}
		return false
	}

	if len(conditions.Not) > 0 {
		for _, sub := range conditions.Not {
			if e.evaluateConditions(c, sub) {
				return false
			}
		}
		return true
	}

	// remaining fields are ANDed

	if len(conditions.Kinds) > 0 && !intInSlice(c.Kind, conditions.Kinds) {
		return false
	}
	if len(conditions.KindsExclude) > 0 && intInSlice(c.Kind, conditions.KindsExclude) {
		return false
	}

	if conditions.AuthorIsOwner && !c.IsOwn {
		return false
	}
	if conditions.AuthorIsFollowing && !c.IsFollowed {
		return false
	}
	if conditions.AuthorIsHidden && !c.IsHidden {
		return false
	}
	if conditions.IsRead && !c.IsRead {
		return false
	}
	if conditions.IsPlaceholder && !c.IsPlaceholder {
		return false
	}

	if conditions.AgeHoursMin > 0 && c.Age < time.Duration(conditions.AgeHoursMin)*time.Hour {
		return false
	}

	if conditions.ReplyCountMin > 0 && c.ReplyCount < conditions.ReplyCountMin {
		return false
	}
	if conditions.ReactionCountMin > 0 && c.ReactionCount < conditions.ReactionCountMin {
		return false
	}
	if conditions.ZapSatsMin > 0 && c.ZapSats().LessThan(decimal.NewFromInt(conditions.ZapSatsMin)) {
		return false
	}

	return true
}

func intInSlice(val int, slice []int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}
