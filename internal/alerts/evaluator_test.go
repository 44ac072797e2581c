package alerts

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundwatch/internal/models"
)

func snapshot(change, value *float64) models.InstrumentSnapshot {
	return models.InstrumentSnapshot{
		Code:                   "000001",
		EstimatedChangePercent: change,
		EstimatedValue:         value,
	}
}

func TestEvaluateRiseThreshold(t *testing.T) {
	rule := models.AlertRule{InstrumentCode: "000001", InstrumentName: "Growth Mix", RiseThreshold: models.Float(5)}

	trig, ok := Evaluate(rule, snapshot(models.Float(6.2), nil))
	require.True(t, ok)
	assert.Equal(t, "rise 6.20% reached threshold 5%", trig.Reason())
	assert.Contains(t, trig.Reason(), "6.20%")
	assert.Contains(t, trig.Reason(), "5%")
	assert.Equal(t, models.KindRise, trig.Kind)
	assert.Equal(t, "📊 Growth Mix alert", trig.Title)

	_, ok = Evaluate(rule, snapshot(models.Float(4.9), nil))
	assert.False(t, ok)

	_, ok = Evaluate(rule, snapshot(models.Float(5), nil))
	assert.True(t, ok, "threshold is inclusive")
}

func TestEvaluateFallThreshold(t *testing.T) {
	rule := models.AlertRule{InstrumentCode: "000001", FallThreshold: models.Float(3)}

	trig, ok := Evaluate(rule, snapshot(models.Float(-3.1), nil))
	require.True(t, ok)
	assert.Equal(t, "fall -3.10% reached threshold -3%", trig.Reason())
	assert.Equal(t, models.KindFall, trig.Kind)
	assert.Equal(t, "📊 000001 alert", trig.Title)

	_, ok = Evaluate(rule, snapshot(models.Float(-2.99), nil))
	assert.False(t, ok)
}

func TestEvaluateTargets(t *testing.T) {
	rule := models.AlertRule{InstrumentCode: "000001", TargetHigh: models.Float(1.2), TargetLow: models.Float(1)}

	trig, ok := Evaluate(rule, snapshot(nil, models.Float(1.2345)))
	require.True(t, ok)
	assert.Equal(t, "estimate 1.2345 reached target 1.2", trig.Reason())
	assert.Equal(t, models.KindRise, trig.Kind)

	trig, ok = Evaluate(rule, snapshot(nil, models.Float(0.9876)))
	require.True(t, ok)
	assert.Equal(t, "estimate 0.9876 reached target 1", trig.Reason())
	assert.Equal(t, models.KindFall, trig.Kind)

	_, ok = Evaluate(rule, snapshot(nil, models.Float(1.1)))
	assert.False(t, ok)
}

func TestEvaluateJoinsConditions(t *testing.T) {
	rule := models.AlertRule{
		InstrumentCode: "000001",
		FallThreshold:  models.Float(2),
		TargetLow:      models.Float(1),
		TargetHigh:     models.Float(0.5),
	}

	trig, ok := Evaluate(rule, snapshot(models.Float(-2.5), models.Float(0.98)))
	require.True(t, ok)
	assert.Equal(t, []AlertCondition{ConditionFall, ConditionTargetHigh, ConditionTargetLow}, trig.Conditions)
	assert.Equal(t, 2, strings.Count(trig.Reason(), ReasonSeparator))
	assert.Equal(t, models.KindRise, trig.Kind, "any upward condition makes it a rise")
}

func TestEvaluateSkipsUnusableSnapshot(t *testing.T) {
	rule := models.AlertRule{InstrumentCode: "000001", RiseThreshold: models.Float(0.01), TargetLow: models.Float(100)}
	_, ok := Evaluate(rule, models.InstrumentSnapshot{Code: "000001", ConfirmedValue: models.Float(1)})
	assert.False(t, ok)
}

func TestEvaluateIgnoresZeroThresholds(t *testing.T) {
	rule := models.AlertRule{InstrumentCode: "000001", RiseThreshold: models.Float(0), FallThreshold: models.Float(0)}
	_, ok := Evaluate(rule, snapshot(models.Float(0), nil))
	assert.False(t, ok)
}

// Property: a rise rule fires exactly when the change reaches the threshold.
func TestProperty_RiseFiresIffReached(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("rise fires iff change >= threshold", prop.ForAll(
		func(threshold, change float64) bool {
			rule := models.AlertRule{InstrumentCode: "000001", RiseThreshold: models.Float(threshold)}
			_, ok := Evaluate(rule, snapshot(models.Float(change), nil))
			return ok == (change >= threshold)
		},
		gen.Float64Range(0.01, 10),
		gen.Float64Range(-10, 10),
	))

	properties.Property("fall fires iff change <= -threshold", prop.ForAll(
		func(threshold, change float64) bool {
			rule := models.AlertRule{InstrumentCode: "000001", FallThreshold: models.Float(threshold)}
			trig, ok := Evaluate(rule, snapshot(models.Float(change), nil))
			if ok && trig.Kind != models.KindFall {
				return false
			}
			return ok == (change <= -threshold)
		},
		gen.Float64Range(0.01, 10),
		gen.Float64Range(-10, 10),
	))

	properties.TestingRun(t)
}
