package analytics

import (
	"net/url"
	"strings"
)

const (
	SourceDirect = "Direct"
	SourceOther  = "Other"
)

// rule matches when the lowercased input contains any of Any and none of None.
// Rules are evaluated in order; the first match wins.
type rule struct {
	Label string
	Any   []string
	None  []string
}

func (r rule) matches(s string) bool {
	for _, token := range r.None {
		if strings.Contains(s, token) {
			return false
		}
	}
	for _, token := range r.Any {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}

type ruleSet struct {
	rules    []rule
	fallback string
}

func (rs ruleSet) classify(s string) string {
	s = strings.ToLower(s)
	for _, r := range rs.rules {
		if r.matches(s) {
			return r.Label
		}
	}
	return rs.fallback
}

// labels returns every label the set can produce, fallback last.
func (rs ruleSet) labels() []string {
	out := make([]string, 0, len(rs.rules)+1)
	for _, r := range rs.rules {
		out = append(out, r.Label)
	}
	return append(out, rs.fallback)
}

var deviceRules = ruleSet{
	rules: []rule{
		{Label: "mobile", Any: []string{"mobile", "iphone", "android"}},
		{Label: "tablet", Any: []string{"tablet", "ipad"}},
	},
	fallback: "desktop",
}

var browserRules = ruleSet{
	rules: []rule{
		{Label: "chrome", Any: []string{"chrome"}, None: []string{"edge"}},
		{Label: "firefox", Any: []string{"firefox"}},
		{Label: "safari", Any: []string{"safari"}, None: []string{"chrome"}},
		{Label: "edge", Any: []string{"edge"}},
	},
	fallback: "other",
}

var osRules = ruleSet{
	rules: []rule{
		{Label: "windows", Any: []string{"windows"}},
		{Label: "mac", Any: []string{"mac", "osx"}},
		{Label: "linux", Any: []string{"linux"}},
		{Label: "android", Any: []string{"android"}},
		{Label: "ios", Any: []string{"ios", "iphone", "ipad"}},
	},
	fallback: "other",
}

func Device(userAgent string) string  { return deviceRules.classify(userAgent) }
func Browser(userAgent string) string { return browserRules.classify(userAgent) }
func OS(userAgent string) string      { return osRules.classify(userAgent) }

// platformRules map referrers of well known platforms to a display name.
var platformRules = []rule{
	{Label: "Google", Any: []string{"google"}},
	{Label: "Facebook", Any: []string{"facebook"}},
	{Label: "Twitter", Any: []string{"twitter"}},
	{Label: "LinkedIn", Any: []string{"linkedin"}},
	{Label: "Instagram", Any: []string{"instagram"}},
	{Label: "YouTube", Any: []string{"youtube"}},
	{Label: "WhatsApp", Any: []string{"whatsapp"}},
	{Label: "Telegram", Any: []string{"telegram"}},
	{Label: "TikTok", Any: []string{"tiktok"}},
}

// shortenerHosts are matched on the exact host; a substring match on "t.co"
// would also catch microsoft.com and friends.
var shortenerHosts = map[string]string{
	"t.co": "Twitter",
}

// CategorizeReferrer maps a raw referrer to a traffic source name. The result
// only depends on the input.
func CategorizeReferrer(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return SourceDirect
	}

	lower := strings.ToLower(referrer)
	for _, r := range platformRules {
		if r.matches(lower) {
			return r.Label
		}
	}

	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return SourceOther
	}

	host := strings.ToLower(u.Hostname())
	if label, ok := shortenerHosts[host]; ok {
		return label
	}
	return strings.TrimPrefix(host, "www.")
}
