package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/bridge/internal/collab"
)

func TestStardate_KnownPoints(t *testing.T) {
	// Jan 1 2024 00:00 UTC: dayOfYear=0, frac=0 → exactly 47000.0.
	assert.Equal(t, "47000.0", Stardate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	// Jan 1 2025 00:00 UTC → 48000.0.
	assert.Equal(t, "48000.0", Stardate(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	// Half a year in: 2024-07-02 12:00 is dayOfYear 183 (leap year), so
	// 47000 + 1000*(183+0.5)/365 = 47502.7...
	assert.Equal(t, "47502.7", Stardate(time.Date(2024, 7, 2, 12, 0, 0, 0, time.UTC)))
}

func TestComputeStreak(t *testing.T) {
	win := func() collab.Trade { return collab.Trade{Result: "win"} }
	loss := func() collab.Trade { return collab.Trade{Result: "loss"} }

	tests := []struct {
		name     string
		trades   []collab.Trade
		count    int
		wantType string // "" means null
	}{
		{"win win loss", []collab.Trade{win(), win(), loss()}, 1, "loss"},
		{"two wins", []collab.Trade{win(), win()}, 2, "win"},
		{"empty", nil, 0, ""},
		{"loss loss win win win", []collab.Trade{loss(), loss(), win(), win(), win()}, 3, "win"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ComputeStreak(tt.trades)
			assert.Equal(t, tt.count, s.Count)
			if tt.wantType == "" {
				assert.Nil(t, s.Type)
			} else {
				require.NotNil(t, s.Type)
				assert.Equal(t, tt.wantType, *s.Type)
			}
		})
	}
}

func TestComputeSparkline(t *testing.T) {
	trades := []collab.Trade{{Profit: 10}, {Profit: -5}, {Profit: 20}}

	assert.Equal(t, []float64{100, 110, 105, 125}, ComputeSparkline(100, trades))
}

func TestComputeSparkline_Rounding(t *testing.T) {
	trades := []collab.Trade{{Profit: 0.105}, {Profit: 0.111}}

	got := ComputeSparkline(100, trades)
	assert.Equal(t, []float64{100, 100.11, 100.22}, got)
}

func TestComputeSparkline_NoTrades(t *testing.T) {
	assert.Equal(t, []float64{250}, ComputeSparkline(250, nil))
}
