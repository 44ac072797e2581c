package alerts

import (
	"context"
	"time"

	"fundwatch/internal/models"
	"fundwatch/internal/store"
)

// DefaultCooldown is how long a rule stays quiet after it fires.
const DefaultCooldown = time.Hour

// Cooldown suppresses repeat notifications for a rule within Window of its
// last trigger.
type Cooldown struct {
	Window time.Duration
	rules  store.RuleStore
}

// NewCooldown creates a Cooldown persisting marks through rules.
func NewCooldown(rules store.RuleStore, window time.Duration) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &Cooldown{Window: window, rules: rules}
}

// Active reports whether rule last fired less than Window before now.
func (c *Cooldown) Active(rule models.AlertRule, now time.Time) bool {
	if rule.LastTriggered == nil {
		return false
	}
	return now.Sub(*rule.LastTriggered) < c.Window
}

// Remaining returns how long rule stays cooling, or zero.
func (c *Cooldown) Remaining(rule models.AlertRule, now time.Time) time.Duration {
	if !c.Active(rule, now) {
		return 0
	}
	return c.Window - now.Sub(*rule.LastTriggered)
}

// Mark records that the rule fired at at.
func (c *Cooldown) Mark(ctx context.Context, ruleID string, at time.Time) error {
	return c.rules.MarkRuleTriggered(ctx, ruleID, at)
}
