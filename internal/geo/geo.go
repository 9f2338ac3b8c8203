package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Resolver maps an IP address to an ISO country code.
type Resolver struct {
	db *geoip2.Reader
}

// Open loads a MaxMind GeoLite2/GeoIP2 database. An empty path yields a
// resolver that never resolves anything.
func Open(path string) (*Resolver, error) {
	if path == "" {
		return &Resolver{}, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &Resolver{db: db}, nil
}

// Country returns the ISO code of ip, or "" when it cannot be resolved.
func (r *Resolver) Country(ip string) string {
	if r == nil || r.db == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := r.db.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

func (r *Resolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
