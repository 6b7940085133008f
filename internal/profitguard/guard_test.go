package profitguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleLadderDefaults(t *testing.T) {
	tests := []struct {
		name      string
		dailyPct  float64
		wantScale float64
	}{
		{"below all thresholds", 0.1, 1.0},
		{"first step", 0.3, 0.8},
		{"second step", 0.5, 0.5},
		{"floor reached", 1.0, 0.2},
		{"negative day keeps full size", -0.5, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(DefaultConfig(), nil)
			g.UpdatePnL(tt.dailyPct)
			assert.Equal(t, tt.wantScale, g.ScaleFactor())
		})
	}
}

func TestLowestScaleWinsWithUnsortedSteps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Steps = []ScaleStep{
		{ThresholdPct: 0.7, Scale: 0.2},
		{ThresholdPct: 0.3, Scale: 0.8},
		{ThresholdPct: 0.5, Scale: 0.5},
	}
	g := New(cfg, nil)

	g.UpdatePnL(0.9) // all thresholds met, most conservative scale applies
	assert.Equal(t, 0.2, g.ScaleFactor())
}

func TestTrailingStopArmsAndNeverFalls(t *testing.T) {
	g := New(DefaultConfig(), nil) // lock at 0.5%, trail 0.3%

	g.UpdatePnL(0.2)
	assert.Nil(t, g.State().TrailingStopPct, "not armed below lock threshold")

	g.UpdatePnL(0.6)
	stop := g.State().TrailingStopPct
	require.NotNil(t, stop)
	assert.InDelta(t, 0.3, *stop, 1e-9)

	g.UpdatePnL(1.2) // stop trails up to 0.9
	stop = g.State().TrailingStopPct
	assert.InDelta(t, 0.9, *stop, 1e-9)

	g.UpdatePnL(1.0) // pullback: the stop must hold, never retreat
	stop = g.State().TrailingStopPct
	assert.InDelta(t, 0.9, *stop, 1e-9)

	blocked, _ := g.Blocked()
	assert.False(t, blocked, "pullback above the stop keeps trading open")
}

func TestTrailingStopBlocks(t *testing.T) {
	g := New(DefaultConfig(), nil)

	g.UpdatePnL(1.2) // armed, stop at 0.9
	g.UpdatePnL(0.8) // through the stop

	blocked, reason := g.Blocked()
	assert.True(t, blocked)
	assert.Equal(t, "trailing stop hit", reason)
}

func TestDailyLossLimitBlocks(t *testing.T) {
	g := New(DefaultConfig(), nil)

	g.UpdatePnL(-1.9)
	blocked, _ := g.Blocked()
	assert.False(t, blocked)

	g.UpdatePnL(-2.0)
	blocked, reason := g.Blocked()
	assert.True(t, blocked)
	assert.Contains(t, reason, "daily loss limit")
}

func TestConsecutiveLossesBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 3
	g := New(cfg, nil)

	g.ReportTradeResult(false)
	g.ReportTradeResult(false)
	g.ReportTradeResult(true) // win resets the streak
	g.ReportTradeResult(false)
	g.ReportTradeResult(false)
	blocked, _ := g.Blocked()
	assert.False(t, blocked)

	g.ReportTradeResult(false)
	blocked, reason := g.Blocked()
	assert.True(t, blocked)
	assert.Contains(t, reason, "consecutive losses")
	assert.Equal(t, 3, g.State().ConsecutiveLosses)
}

func TestCanOpenPosition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionPct = 5.0
	g := New(cfg, nil)

	ok, _ := g.CanOpenPosition(4.0)
	assert.True(t, ok)

	ok, reason := g.CanOpenPosition(6.0)
	assert.False(t, ok)
	assert.Contains(t, reason, "exceeds max position")

	// Scaling can bring an oversized request back under the ceiling.
	g.UpdatePnL(0.5) // scale 0.5
	ok, _ = g.CanOpenPosition(6.0)
	assert.True(t, ok, "6 at 0.5 scale is 3, inside the 5 limit")

	// Blocked state wins regardless of size.
	g.UpdatePnL(-2.5)
	ok, reason = g.CanOpenPosition(0.1)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestResetDailyClearsEverything(t *testing.T) {
	g := New(DefaultConfig(), nil)

	g.UpdatePnL(1.2)
	g.UpdatePnL(0.5) // trailing stop hit at 0.9
	g.ReportTradeResult(false)
	blocked, _ := g.Blocked()
	require.True(t, blocked)

	g.ResetDaily()

	st := g.State()
	assert.False(t, st.Blocked)
	assert.Empty(t, st.Reason)
	assert.Nil(t, st.TrailingStopPct)
	assert.Equal(t, 1.0, st.ScaleFactor)
	assert.Equal(t, 0.0, st.DailyPnLPct)
	assert.Equal(t, 0.0, st.DailyHWMPct)
	assert.Equal(t, 0, st.ConsecutiveLosses)

	ok, _ := g.CanOpenPosition(1.0)
	assert.True(t, ok)
}
