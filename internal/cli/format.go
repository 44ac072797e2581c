package cli

import (
	"fmt"
	"strings"
	"time"

	"fundwatch/internal/models"
	"fundwatch/pkg/utils"
)

// FormatChange formats a change percentage with sign.
func FormatChange(pct float64) string {
	return utils.FormatSignedPercent(pct)
}

// FormatRuleThresholds summarises the thresholds a rule watches, e.g.
// "rise ≥5% fall ≥3% nav ≤1.2".
func FormatRuleThresholds(rule models.AlertRule) string {
	var parts []string
	if v, ok := models.Threshold(rule.RiseThreshold); ok {
		parts = append(parts, "rise ≥"+utils.FormatThreshold(v)+"%")
	}
	if v, ok := models.Threshold(rule.FallThreshold); ok {
		parts = append(parts, "fall ≥"+utils.FormatThreshold(v)+"%")
	}
	if v, ok := models.Threshold(rule.TargetHigh); ok {
		parts = append(parts, "nav ≥"+utils.FormatThreshold(v))
	}
	if v, ok := models.Threshold(rule.TargetLow); ok {
		parts = append(parts, "nav ≤"+utils.FormatThreshold(v))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// FormatTime formats a time in the market timezone.
func FormatTime(t time.Time) string {
	return t.In(utils.ChinaLocation).Format("2006-01-02 15:04")
}

// FormatOptionalTime formats t, or "-" when it is unset.
func FormatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return FormatTime(*t)
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// TruncateString truncates a string to maxLen runes, marking the cut with "...".
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
