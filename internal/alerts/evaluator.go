// Package alerts evaluates threshold rules against reconciled snapshots on a
// schedule and emits notifications for the rules that fire.
package alerts

import (
	"fmt"
	"strings"

	"fundwatch/internal/models"
	"fundwatch/pkg/utils"
)

// AlertCondition identifies which threshold of a rule was crossed.
type AlertCondition string

const (
	// ConditionRise fires when the estimated change reaches the rise threshold.
	ConditionRise AlertCondition = "rise"
	// ConditionFall fires when the estimated change drops to minus the fall threshold.
	ConditionFall AlertCondition = "fall"
	// ConditionTargetHigh fires when the estimated value reaches the upper target.
	ConditionTargetHigh AlertCondition = "target_high"
	// ConditionTargetLow fires when the estimated value drops to the lower target.
	ConditionTargetLow AlertCondition = "target_low"
)

// ReasonSeparator joins the reasons of a multi-condition trigger.
const ReasonSeparator = "; "

// Trigger is the outcome of a rule that fired.
type Trigger struct {
	Conditions []AlertCondition
	Reasons    []string
	Kind       models.NotificationKind
	Title      string
}

// Reason joins every satisfied condition's reason text.
func (t Trigger) Reason() string {
	return strings.Join(t.Reasons, ReasonSeparator)
}

// upward reports whether any fired condition points up.
func (t Trigger) upward() bool {
	for _, c := range t.Conditions {
		if c == ConditionRise || c == ConditionTargetHigh {
			return true
		}
	}
	return false
}

// Evaluate checks every threshold of rule against snap. Unset and zero
// thresholds are ignored. A snapshot with neither a change percent nor an
// estimated value never fires.
func Evaluate(rule models.AlertRule, snap models.InstrumentSnapshot) (Trigger, bool) {
	var t Trigger
	if !snap.Usable() {
		return t, false
	}

	if change := snap.EstimatedChangePercent; change != nil {
		if rise, ok := models.Threshold(rule.RiseThreshold); ok && *change >= rise {
			t.add(ConditionRise, fmt.Sprintf("rise %s reached threshold %s%%",
				utils.FormatPercent(*change), utils.FormatThreshold(rise)))
		}
		if fall, ok := models.Threshold(rule.FallThreshold); ok && *change <= -fall {
			t.add(ConditionFall, fmt.Sprintf("fall %s reached threshold -%s%%",
				utils.FormatPercent(*change), utils.FormatThreshold(fall)))
		}
	}

	if value := snap.EstimatedValue; value != nil {
		if high, ok := models.Threshold(rule.TargetHigh); ok && *value >= high {
			t.add(ConditionTargetHigh, fmt.Sprintf("estimate %s reached target %s",
				utils.FormatNav(*value), utils.FormatThreshold(high)))
		}
		if low, ok := models.Threshold(rule.TargetLow); ok && *value <= low {
			t.add(ConditionTargetLow, fmt.Sprintf("estimate %s reached target %s",
				utils.FormatNav(*value), utils.FormatThreshold(low)))
		}
	}

	if len(t.Conditions) == 0 {
		return t, false
	}

	t.Kind = models.KindFall
	if t.upward() {
		t.Kind = models.KindRise
	}
	t.Title = Title(rule)
	return t, true
}

// Title renders the notification title for rule.
func Title(rule models.AlertRule) string {
	return fmt.Sprintf("📊 %s alert", rule.DisplayName())
}

func (t *Trigger) add(c AlertCondition, reason string) {
	t.Conditions = append(t.Conditions, c)
	t.Reasons = append(t.Reasons, reason)
}
