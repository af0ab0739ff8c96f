package snapshot

import (
	"fmt"
	"math"
	"time"

	"github.com/p-blackswan/bridge/internal/collab"
)

// Stardate renders t as a dashboard stardate, one decimal place:
// 47000 + 1000*(year-2024) + 1000*(dayOfYear + fractionOfDay)/365.
// The formula is arbitrary but fixed; clients display it verbatim.
func Stardate(t time.Time) string {
	year := t.Year()
	dayOfYear := float64(t.YearDay() - 1)
	fracOfDay := (float64(t.Hour())*3600 + float64(t.Minute())*60 + float64(t.Second())) / 86400
	sd := 47000 + 1000*float64(year-2024) + 1000*(dayOfYear+fracOfDay)/365
	return fmt.Sprintf("%.1f", sd)
}

// ComputeStreak scans trade history from most recent backward and returns
// the run length of consecutive trades sharing the same result. Empty
// history yields {0, null}.
func ComputeStreak(trades []collab.Trade) Streak {
	if len(trades) == 0 {
		return Streak{Count: 0, Type: nil}
	}

	last := trades[len(trades)-1].Result
	count := 0
	for i := len(trades) - 1; i >= 0; i-- {
		if trades[i].Result != last {
			break
		}
		count++
	}
	return Streak{Count: count, Type: &last}
}

// ComputeSparkline builds the running-balance series: the starting balance
// followed by a prefix sum of trade profits, each point rounded to 2
// decimals.
func ComputeSparkline(startingBalance float64, trades []collab.Trade) []float64 {
	points := make([]float64, 0, len(trades)+1)
	balance := startingBalance
	points = append(points, round2(balance))
	for _, tr := range trades {
		balance += tr.Profit
		points = append(points, round2(balance))
	}
	return points
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
