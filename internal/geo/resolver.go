package geo

import (
	"net"
	"os"
	"sync"

	"rpcguard/internal/support"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
)

// Resolver maps client IPs to ISO country codes for request-log enrichment
// and the distributed-attack signal. Lookups are nil-safe: without a
// database every lookup returns "".
type Resolver struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
}

// DatabasePath returns where the country database lives on disk. Shared
// with the updater job.
func DatabasePath() string {
	return support.GetEnv("GEOIP_COUNTRY_DB", "data/GeoLite2-Country.mmdb")
}

// Open loads the GeoLite2 country database named by GEOIP_COUNTRY_DB.
// A missing database is not an error; the engine runs without geo signals.
func Open() *Resolver {
	r := &Resolver{}
	if err := r.Reload(); err != nil {
		log.Warn("GeoLite country database not loaded, geo enrichment disabled", "error", err)
	}
	return r
}

// Reload swaps in the database currently on disk. Called after the updater
// job replaced the file.
func (r *Resolver) Reload() error {
	path := DatabasePath()

	if _, err := os.Stat(path); err != nil {
		return err
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.reader
	r.reader = reader
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	log.Debug("GeoLite country database loaded", "path", path)
	return nil
}

// Country returns the ISO 3166-1 alpha-2 code for the IP, or "".
func (r *Resolver) Country(ip string) string {
	if r == nil {
		return ""
	}

	r.mu.RLock()
	reader := r.reader
	r.mu.RUnlock()

	if reader == nil {
		return ""
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	record, err := reader.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

func (r *Resolver) Close() {
	if r == nil {
		return
	}

	r.mu.Lock()
	reader := r.reader
	r.reader = nil
	r.mu.Unlock()

	if reader == nil {
		return
	}
	if err := reader.Close(); err != nil {
		log.Warn("Failed to close GeoLite database", "error", err)
	}
}
