package castrilha

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPReader provides IP geolocation using MaxMind GeoLite2 database.
// It gives an approximate route origin when no position fix is available.
type GeoIPReader struct {
	db   *geoip2.Reader
	path string
}

// NewGeoIPReader opens a MaxMind GeoLite2-City database.
func NewGeoIPReader(dbPath string) (*GeoIPReader, error) {
	if dbPath == "" {
		return nil, ErrGeoIPDatabaseNotConfigured
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("geoip: failed to open database: %w", err)
	}

	return &GeoIPReader{
		db:   db,
		path: dbPath,
	}, nil
}

// Lookup returns location information for an IP address.
func (r *GeoIPReader) Lookup(ip string) (*LocationInfo, error) {
	if r == nil || r.db == nil {
		return nil, ErrGeoIPDatabaseNotConfigured
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}

	record, err := r.db.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeoIPLookupFailed, err)
	}

	loc := &LocationInfo{
		IP:        ip,
		City:      localizedName(record.City.Names),
		Country:   localizedName(record.Country.Names),
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}
	if !loc.LatLng().Valid() || (loc.Latitude == 0 && loc.Longitude == 0) {
		return nil, fmt.Errorf("%w: no coordinates for %s", ErrGeoIPLookupFailed, ip)
	}
	return loc, nil
}

// localizedName prefers Portuguese, then English, then any available name.
func localizedName(names map[string]string) string {
	for _, lang := range []string{"pt-BR", "en"} {
		if name, ok := names[lang]; ok {
			return name
		}
	}
	for _, name := range names {
		return name
	}
	return ""
}

// Close closes the GeoIP database.
func (r *GeoIPReader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
