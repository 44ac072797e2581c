// Package models defines alert rules, feed snapshots and notifications.
package models

import (
	"time"

	apperrors "fundwatch/internal/errors"
)

// AlertRule is a user's threshold configuration for one instrument.
// One rule exists per (OwnerID, InstrumentCode).
type AlertRule struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"userId"`
	InstrumentCode string     `json:"fundCode"`
	InstrumentName string     `json:"fundName"`
	RiseThreshold  *float64   `json:"riseThreshold"`
	FallThreshold  *float64   `json:"fallThreshold"`
	TargetHigh     *float64   `json:"targetNavHigh"`
	TargetLow      *float64   `json:"targetNavLow"`
	Enabled        bool       `json:"enabled"`
	LastTriggered  *time.Time `json:"lastTriggered"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Threshold returns the value behind p when it is set to a non-zero number.
// A zero threshold is treated as unset.
func Threshold(p *float64) (float64, bool) {
	if p == nil || *p == 0 {
		return 0, false
	}
	return *p, true
}

// HasThreshold reports whether at least one of the four thresholds is set.
func (r *AlertRule) HasThreshold() bool {
	for _, p := range []*float64{r.RiseThreshold, r.FallThreshold, r.TargetHigh, r.TargetLow} {
		if _, ok := Threshold(p); ok {
			return true
		}
	}
	return false
}

// Validate checks the invariants a rule must satisfy before it is stored.
func (r *AlertRule) Validate() error {
	if r.OwnerID == "" {
		return apperrors.NewValidationError("userId", r.OwnerID, "required")
	}
	if r.InstrumentCode == "" {
		return apperrors.NewValidationError("fundCode", r.InstrumentCode, "required")
	}
	if !r.HasThreshold() {
		return apperrors.ErrRuleInvalid
	}
	for name, p := range map[string]*float64{
		"riseThreshold": r.RiseThreshold,
		"fallThreshold": r.FallThreshold,
		"targetNavHigh": r.TargetHigh,
		"targetNavLow":  r.TargetLow,
	} {
		if p != nil && *p < 0 {
			return apperrors.NewValidationError(name, *p, "must not be negative")
		}
	}
	return nil
}

// DisplayName returns the instrument name, or its code when no name is known.
func (r *AlertRule) DisplayName() string {
	if r.InstrumentName != "" {
		return r.InstrumentName
	}
	return r.InstrumentCode
}

// TrackedInstrument is an instrument referenced by at least one rule.
type TrackedInstrument struct {
	Code        string `json:"code"`
	DisplayName string `json:"name"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
