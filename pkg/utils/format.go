// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatPercent formats a change percentage with two decimals, e.g. "6.20%".
func FormatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

// FormatSignedPercent formats a percentage with an explicit sign, e.g. "+1.25%".
func FormatSignedPercent(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

// FormatThreshold renders a user-entered number without trailing zeros,
// so 5 prints as "5" and 1.25 as "1.25".
func FormatThreshold(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatNav formats a net asset value with four decimals.
func FormatNav(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// FormatOptional renders a nullable number with format, or "-" when unset.
func FormatOptional(p *float64, format func(float64) string) string {
	if p == nil {
		return "-"
	}
	return format(*p)
}

// ParseOptionalFloat parses s, returning nil for blanks and junk such as
// the "--" feeds send for missing data.
func ParseOptionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
