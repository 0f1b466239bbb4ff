package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	allowed := [][2]Status{
		{StatusSubmitted, StatusProcessing},
		{StatusSubmitted, StatusFailed},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusFailed, StatusSubmitted},
	}
	for _, edge := range allowed {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}

	rejected := [][2]Status{
		{StatusSubmitted, StatusCompleted},
		{StatusSubmitted, StatusSubmitted},
		{StatusCompleted, StatusFailed},
		{StatusCompleted, StatusSubmitted},
		{StatusCompleted, StatusProcessing},
		{StatusFailed, StatusProcessing},
		{StatusFailed, StatusCompleted},
		{Status("archived"), StatusSubmitted},
	}
	for _, edge := range rejected {
		assert.False(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}
}

func TestMustTransitionTableRejectsUnknownTarget(t *testing.T) {
	assert.Panics(t, func() {
		mustTransitionTable(map[Status][]Status{StatusSubmitted: {Status("shipped")}})
	})
}

func TestNormalizeFormats(t *testing.T) {
	got := NormalizeFormats([]string{" DST", "pes", "dst", "bogus", "10O", ""})
	assert.Equal(t, []string{"dst", "pes", "10o"}, got)
	assert.Empty(t, NormalizeFormats([]string{"png"}))
	assert.Len(t, SupportedFormats(), 21)
}

func TestMissingFormats(t *testing.T) {
	missing := MissingFormats([]string{"dst", "pes", "jef"}, []Deliverable{
		{Format: "pes", FileKey: "orders/x/pes/a.pes"},
		{Format: "jef"},
	})
	assert.Equal(t, []string{"dst", "jef"}, missing)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "ORD-2025-007", FormatNumber("ORD", 2025, 7))
	assert.Equal(t, "ORD-2025-1234", FormatNumber("ORD", 2025, 1234))
}
