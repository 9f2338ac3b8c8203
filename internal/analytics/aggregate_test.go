package analytics

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func click(at string, ip, country, referrer, ua string) internal.ClickEvent {
	ts, err := time.Parse(time.RFC3339, at)
	if err != nil {
		panic(err)
	}
	return internal.ClickEvent{
		Keyword:     "abc",
		ClickedAt:   ts,
		IPAddress:   ip,
		CountryCode: country,
		Referrer:    referrer,
		UserAgent:   ua,
	}
}

func sumDaily(s Stats) int {
	n := 0
	for _, d := range s.DailyTraffic {
		n += d.Clicks
	}
	return n
}

func sumLocations(s Stats) int {
	n := 0
	for _, l := range s.LocationStats {
		n += l.Clicks
	}
	return n
}

func sumTally(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil)

	assert.Zero(t, s.TotalClicks)
	assert.Zero(t, s.UniqueVisitors)
	assert.Empty(t, s.DailyTraffic)
	assert.NotNil(t, s.DailyTraffic)
	assert.Empty(t, s.HourlyDistribution)
	assert.Empty(t, s.LocationStats)
	assert.Empty(t, s.TrafficSources)
	assert.Equal(t, map[string]int{"mobile": 0, "tablet": 0, "desktop": 0}, s.DeviceStats.Devices)
	assert.Equal(t, map[string]int{"chrome": 0, "firefox": 0, "safari": 0, "edge": 0, "other": 0}, s.DeviceStats.Browsers)
	assert.Len(t, s.DeviceStats.OS, 6)
	assert.Zero(t, sumTally(s.DeviceStats.OS))
}

func TestAggregate_CountryPercentages(t *testing.T) {
	events := []internal.ClickEvent{
		click("2024-03-01T10:00:00Z", "1.1.1.1", "CL", "", ""),
		click("2024-03-01T11:00:00Z", "1.1.1.2", "CL", "", ""),
		click("2024-03-02T10:00:00Z", "1.1.1.1", "US", "", ""),
		click("2024-03-02T12:00:00Z", "1.1.1.3", "CL", "", ""),
	}

	s := Aggregate(events)

	assert.Equal(t, 4, s.TotalClicks)
	assert.Equal(t, 3, s.UniqueVisitors)
	assert.Equal(t, []LocationStat{
		{CountryCode: "CL", Clicks: 3, Percentage: "75.0"},
		{CountryCode: "US", Clicks: 1, Percentage: "25.0"},
	}, s.LocationStats)
}

func TestAggregate_SeriesAreUTCAndSorted(t *testing.T) {
	chile := time.FixedZone("CLT", -3*3600)
	events := []internal.ClickEvent{
		click("2024-03-02T23:30:00Z", "a", "CL", "", ""),
		click("2024-03-01T05:00:00Z", "b", "CL", "", ""),
		click("2024-03-01T05:10:00Z", "c", "", "", ""),
	}
	// 2024-03-01 22:00 in Chile is 2024-03-02 01:00 UTC
	events = append(events, internal.ClickEvent{
		Keyword:   "abc",
		ClickedAt: time.Date(2024, 3, 1, 22, 0, 0, 0, chile),
		IPAddress: "d",
	})

	s := Aggregate(events)

	assert.Equal(t, []DailyClicks{
		{Date: "2024-03-01", Clicks: 2},
		{Date: "2024-03-02", Clicks: 2},
	}, s.DailyTraffic)
	assert.Equal(t, []HourlyClicks{
		{Hour: 1, Clicks: 1},
		{Hour: 5, Clicks: 2},
		{Hour: 23, Clicks: 1},
	}, s.HourlyDistribution)
	assert.Equal(t, []LocationStat{
		{CountryCode: "CL", Clicks: 2, Percentage: "50.0"},
		{CountryCode: UnknownCountry, Clicks: 2, Percentage: "50.0"},
	}, s.LocationStats)
}

func TestAggregate_TrafficSources(t *testing.T) {
	events := []internal.ClickEvent{
		click("2024-03-01T10:00:00Z", "a", "CL", "https://www.google.com/search?q=x", ""),
		click("2024-03-01T10:00:00Z", "b", "CL", "https://google.cl/", ""),
		click("2024-03-01T10:00:00Z", "c", "CL", "", ""),
		click("2024-03-01T10:00:00Z", "d", "CL", "https://myblog.example", ""),
	}

	s := Aggregate(events)

	assert.Equal(t, []SourceStat{
		{Source: "Google", Clicks: 2, Percentage: "50.0"},
		{Source: SourceDirect, Clicks: 1, Percentage: "25.0"},
		{Source: "myblog.example", Clicks: 1, Percentage: "25.0"},
	}, s.TrafficSources)
}

func TestAggregate_TrafficSourcesTruncatedToTop(t *testing.T) {
	var events []internal.ClickEvent
	for i := range 12 {
		host := fmt.Sprintf("https://site%02d.example/", i)
		// site00 gets 13 clicks, site11 gets 2
		for range 13 - i {
			events = append(events, click("2024-03-01T10:00:00Z", strconv.Itoa(i), "CL", host, ""))
		}
	}

	s := Aggregate(events)

	require.Len(t, s.TrafficSources, TopSources)
	assert.Equal(t, "site00.example", s.TrafficSources[0].Source)
	assert.Equal(t, "site09.example", s.TrafficSources[TopSources-1].Source)

	shown := 0
	for _, src := range s.TrafficSources {
		shown += src.Clicks
	}
	assert.Less(t, shown, s.TotalClicks, "percentages stay relative to the full total")
	assert.Equal(t, "14.4", s.TrafficSources[0].Percentage) // 13 of 90
}

func TestAggregate_EveryRowTalliedOnce(t *testing.T) {
	uas := []string{uaChromeWindows, uaSafariIPhone, uaFirefoxLinux, uaChromeAndroid, uaSafariIPad, uaLegacyEdge, "", "curl/8.4.0"}
	countries := []string{"CL", "US", "", "AR"}
	referrers := []string{"", "https://t.co/x", "https://www.facebook.com/", "garbage"}

	var events []internal.ClickEvent
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 50 {
		events = append(events, internal.ClickEvent{
			Keyword:     "abc",
			ClickedAt:   start.Add(time.Duration(i) * 7 * time.Hour),
			IPAddress:   strconv.Itoa(i % 9),
			CountryCode: countries[i%len(countries)],
			Referrer:    referrers[i%len(referrers)],
			UserAgent:   uas[i%len(uas)],
		})
	}

	s := Aggregate(events)

	assert.Equal(t, 50, s.TotalClicks)
	assert.Equal(t, 9, s.UniqueVisitors)
	assert.Equal(t, s.TotalClicks, sumDaily(s))
	assert.Equal(t, s.TotalClicks, sumLocations(s))
	assert.Equal(t, s.TotalClicks, sumTally(s.DeviceStats.Devices))
	assert.Equal(t, s.TotalClicks, sumTally(s.DeviceStats.Browsers))
	assert.Equal(t, s.TotalClicks, sumTally(s.DeviceStats.OS))

	var pct float64
	for _, l := range s.LocationStats {
		v, err := strconv.ParseFloat(l.Percentage, 64)
		require.NoError(t, err)
		pct += v
	}
	assert.InDelta(t, 100, pct, 0.5)
}
