package events

import (
	"time"

	rules "roomwatch/internal/rules/domain"
)

// RuleFired is emitted when a rule fires with at least one action to apply.
// Actions holds only the actions chosen for this fire, in rule order.
type RuleFired struct {
	RuleID     string           `json:"rule_id"`
	RuleName   string           `json:"rule_name"`
	Actions    rules.ActionList `json:"actions"`
	Log        rules.FireLog    `json:"log"`
	FireCount  int              `json:"fire_count"`
	OccurredAt time.Time        `json:"occurred_at"`
}
