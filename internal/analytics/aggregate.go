package analytics

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/samber/lo"
)

const (
	// TopSources is how many traffic sources a report keeps.
	TopSources = 10

	UnknownCountry = "Unknown"
)

type DailyClicks struct {
	Date   string `json:"date"`
	Clicks int    `json:"clicks"`
}

type HourlyClicks struct {
	Hour   int `json:"hour"`
	Clicks int `json:"clicks"`
}

type LocationStat struct {
	CountryCode string `json:"country_code"`
	Clicks      int    `json:"clicks"`
	Percentage  string `json:"percentage"`
}

type SourceStat struct {
	Source     string `json:"source"`
	Clicks     int    `json:"clicks"`
	Percentage string `json:"percentage"`
}

type DeviceStats struct {
	Devices  map[string]int `json:"devices"`
	Browsers map[string]int `json:"browsers"`
	OS       map[string]int `json:"os"`
}

// Stats is a traffic report over a set of click events.
type Stats struct {
	Timeframe          Timeframe      `json:"timeframe"`
	TotalClicks        int            `json:"total_clicks"`
	UniqueVisitors     int            `json:"unique_visitors"`
	DailyTraffic       []DailyClicks  `json:"daily_traffic"`
	HourlyDistribution []HourlyClicks `json:"hourly_distribution"`
	LocationStats      []LocationStat `json:"location_stats"`
	TrafficSources     []SourceStat   `json:"traffic_sources"`
	DeviceStats        DeviceStats    `json:"device_stats"`
	GeneratedAt        time.Time      `json:"timestamp"`
}

func emptyDeviceStats() DeviceStats {
	zeroed := func(rs ruleSet) map[string]int {
		return lo.SliceToMap(rs.labels(), func(label string) (string, int) {
			return label, 0
		})
	}
	return DeviceStats{
		Devices:  zeroed(deviceRules),
		Browsers: zeroed(browserRules),
		OS:       zeroed(osRules),
	}
}

// EmptyStats is the report of a scope without any click.
func EmptyStats() Stats {
	return Stats{
		DailyTraffic:       []DailyClicks{},
		HourlyDistribution: []HourlyClicks{},
		LocationStats:      []LocationStat{},
		TrafficSources:     []SourceStat{},
		DeviceStats:        emptyDeviceStats(),
	}
}

// Aggregate builds a report from events. Dates and hours are taken in UTC,
// and percentages are relative to len(events) even where a breakdown is
// truncated.
func Aggregate(events []internal.ClickEvent) Stats {
	stats := EmptyStats()
	total := len(events)
	if total == 0 {
		return stats
	}

	stats.TotalClicks = total
	stats.UniqueVisitors = len(lo.UniqBy(events, func(e internal.ClickEvent) string {
		return e.IPAddress
	}))

	byDay := lo.CountValuesBy(events, func(e internal.ClickEvent) string {
		return e.ClickedAt.UTC().Format(time.DateOnly)
	})
	for date, clicks := range byDay {
		stats.DailyTraffic = append(stats.DailyTraffic, DailyClicks{Date: date, Clicks: clicks})
	}
	slices.SortFunc(stats.DailyTraffic, func(a, b DailyClicks) int {
		return cmp.Compare(a.Date, b.Date)
	})

	byHour := lo.CountValuesBy(events, func(e internal.ClickEvent) int {
		return e.ClickedAt.UTC().Hour()
	})
	for hour, clicks := range byHour {
		stats.HourlyDistribution = append(stats.HourlyDistribution, HourlyClicks{Hour: hour, Clicks: clicks})
	}
	slices.SortFunc(stats.HourlyDistribution, func(a, b HourlyClicks) int {
		return cmp.Compare(a.Hour, b.Hour)
	})

	stats.LocationStats = countryBreakdown(events, total)

	bySource := lo.CountValuesBy(events, func(e internal.ClickEvent) string {
		return CategorizeReferrer(e.Referrer)
	})
	for _, entry := range sortedCounts(bySource) {
		stats.TrafficSources = append(stats.TrafficSources, SourceStat{
			Source:     entry.Key,
			Clicks:     entry.Value,
			Percentage: percentage(entry.Value, total),
		})
	}
	if len(stats.TrafficSources) > TopSources {
		stats.TrafficSources = stats.TrafficSources[:TopSources]
	}

	for _, e := range events {
		stats.DeviceStats.Devices[Device(e.UserAgent)]++
		stats.DeviceStats.Browsers[Browser(e.UserAgent)]++
		stats.DeviceStats.OS[OS(e.UserAgent)]++
	}

	return stats
}

func countryBreakdown(events []internal.ClickEvent, total int) []LocationStat {
	byCountry := lo.CountValuesBy(events, func(e internal.ClickEvent) string {
		if e.CountryCode == "" {
			return UnknownCountry
		}
		return e.CountryCode
	})

	return lo.Map(sortedCounts(byCountry), func(entry lo.Entry[string, int], _ int) LocationStat {
		return LocationStat{
			CountryCode: entry.Key,
			Clicks:      entry.Value,
			Percentage:  percentage(entry.Value, total),
		}
	})
}

// sortedCounts orders by count descending, then key ascending.
func sortedCounts(counts map[string]int) []lo.Entry[string, int] {
	entries := lo.Entries(counts)
	slices.SortFunc(entries, func(a, b lo.Entry[string, int]) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return entries
}

func percentage(part, total int) string {
	if total == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(part)*100/float64(total))
}
