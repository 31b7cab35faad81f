// Package geo tags uploads with the uploader's country from a MaxMind
// database.
package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// Resolver looks up ISO country codes. A nil Resolver resolves nothing.
type Resolver struct {
	db *maxminddb.Reader
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

func Open(path string) (*Resolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip db: %w", err)
	}
	return &Resolver{db: db}, nil
}

// Country returns the ISO code for ip, or "" when unknown.
func (r *Resolver) Country(ip net.IP) (string, error) {
	if r == nil || r.db == nil || ip == nil {
		return "", nil
	}
	var rec countryRecord
	if err := r.db.Lookup(ip, &rec); err != nil {
		return "", fmt.Errorf("geoip lookup %s: %w", ip, err)
	}
	if rec.Country.ISOCode != "" {
		return rec.Country.ISOCode, nil
	}
	return rec.RegisteredCountry.ISOCode, nil
}

func (r *Resolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
