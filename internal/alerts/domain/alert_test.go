package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conditions "roomwatch/internal/conditions/domain"
)

func TestAlertNormalizeDefaults(t *testing.T) {
	alert := Alert{Name: "  Hot room  ", Scope: Scope{Room: "ignored"}}
	alert.Normalize()

	assert.Equal(t, "Hot room", alert.Name)
	assert.Equal(t, SeverityWarn, alert.Severity)
	assert.Equal(t, Scope{Mode: ScopeAny}, alert.Scope)
	assert.NotNil(t, alert.Conditions)
	require.NoError(t, alert.Validate())
}

func TestAlertValidate(t *testing.T) {
	valid := func() Alert {
		return Alert{
			Name:     "Stuffy",
			Severity: SeverityCrit,
			Scope:    Scope{Mode: ScopeRoom, Room: "WWH015"},
			Conditions: []conditions.Group{{Tests: []conditions.Test{
				conditions.EnvTest{Metric: "status", Op: conditions.OpContains, Value: conditions.Text("stale")},
			}}},
			HoldSec:     30,
			CooldownSec: 300,
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(a *Alert){
		"name":      func(a *Alert) { a.Name = "" },
		"severity":  func(a *Alert) { a.Severity = "high" },
		"room":      func(a *Alert) { a.Scope.Room = " " },
		"scope":     func(a *Alert) { a.Scope.Mode = "floor" },
		"hold":      func(a *Alert) { a.HoldSec = -1 },
		"cooldown":  func(a *Alert) { a.CooldownSec = -1 },
		"condition": func(a *Alert) { a.Conditions[0].Mode = "MOST" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			alert := valid()
			mutate(&alert)
			require.ErrorIs(t, alert.Validate(), ErrInvalidDefinition)
		})
	}
}

func TestEventFilter(t *testing.T) {
	f := EventFilter{}.Normalize()
	assert.Equal(t, DefaultEventLimit, f.Limit)
	assert.Equal(t, MaxEventLimit, EventFilter{Limit: 5000}.Normalize().Limit)

	open := Event{Severity: SeverityWarn}
	acked := Event{Severity: SeverityCrit, Acknowledged: true}

	assert.True(t, EventFilter{}.Matches(acked))
	assert.False(t, EventFilter{OnlyOpen: true}.Matches(acked))
	assert.True(t, EventFilter{Severity: SeverityWarn}.Matches(open))
	assert.False(t, EventFilter{Severity: SeverityWarn}.Matches(acked))
}
