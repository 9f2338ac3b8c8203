package analytics

import (
	"fmt"
	"strings"
	"time"

	"github.com/abdusco/qrlinks/internal"
)

// Timeframe selects a rolling lookback window. The zero value is unbounded.
type Timeframe string

const (
	TimeframeAll Timeframe = "all"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
	Timeframe90d Timeframe = "90d"
)

var lookbacks = map[Timeframe]time.Duration{
	Timeframe7d:  7 * 24 * time.Hour,
	Timeframe30d: 30 * 24 * time.Hour,
	Timeframe90d: 90 * 24 * time.Hour,
}

func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if tf == "" || tf == TimeframeAll {
		return TimeframeAll, nil
	}
	if _, ok := lookbacks[tf]; !ok {
		return "", internal.Validation(fmt.Sprintf("unknown timeframe %q, expected 7d, 30d, 90d or all", s))
	}
	return tf, nil
}

// Since returns the inclusive lower bound of the window ending at now, or nil
// when the window is unbounded.
func (tf Timeframe) Since(now time.Time) *time.Time {
	lookback, ok := lookbacks[tf]
	if !ok {
		return nil
	}
	since := now.Add(-lookback)
	return &since
}
