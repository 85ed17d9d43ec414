// Package registry is the in-process driver registry keyed by URI
// scheme: every backend under drivers/ registers itself from an init()
// func, so opening a connection never needs to import a concrete driver
// package by name.
package registry

import (
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/ormerr"
)

// Config is the parsed connection configuration passed to a DriverFactory.
type Config struct {
	Scheme   string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	FilePath string // sqlite's file-based DSN
	Raw      string // original URI, for drivers that want to parse it themselves
	Query    url.Values
}

// DriverFactory constructs a driver.Driver from a parsed Config.
type DriverFactory func(cfg Config) (driver.Driver, error)

var (
	mu       sync.RWMutex
	drivers  = make(map[string]DriverFactory)
	capabils = make(map[string]driver.Capability)
)

// Register binds scheme (e.g. "sqlite", "postgres") to factory. Panics
// on a duplicate registration: two drivers silently fighting over a
// scheme is a build-time defect, not a runtime condition to recover
// from.
func Register(scheme string, factory DriverFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := drivers[scheme]; exists {
		panic(fmt.Sprintf("registry: driver for scheme %q already registered", scheme))
	}
	drivers[scheme] = factory
}

// RegisterCapability records a driver's Capability under scheme, so code
// can reason about a backend's capability before opening a connection to
// it (e.g. choosing which test fixtures to run).
func RegisterCapability(scheme string, cap driver.Capability) {
	mu.Lock()
	defer mu.Unlock()
	capabils[scheme] = cap
}

// Capability returns the previously-registered Capability for scheme.
func Capability(scheme string) (driver.Capability, error) {
	mu.RLock()
	defer mu.RUnlock()
	cap, ok := capabils[scheme]
	if !ok {
		return driver.Capability{}, ormerr.New(ormerr.UnsupportedFeature, "registry: no capability registered for scheme %q", scheme)
	}
	return cap, nil
}

// Open parses uri, resolves its scheme to a registered DriverFactory, and
// constructs the driver.
func Open(uri string) (driver.Driver, error) {
	cfg, scheme, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	mu.RLock()
	factory, ok := drivers[scheme]
	mu.RUnlock()
	if !ok {
		return nil, ormerr.New(ormerr.UnsupportedFeature, "registry: no driver registered for scheme %q", scheme)
	}
	return factory(cfg)
}

// ParseURI parses a connection URI into a Config plus the resolved
// scheme, generically enough to serve every relational/document backend;
// drivers that need dialect-specific DSN quirks read cfg.Raw themselves.
func ParseURI(uri string) (Config, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Config{}, "", ormerr.Wrap(ormerr.InvalidConnectionURL, err, "registry: invalid connection URI")
	}
	if u.Scheme == "" {
		return Config{}, "", ormerr.New(ormerr.InvalidConnectionURL, "registry: URI %q has no scheme", uri)
	}

	cfg := Config{Scheme: u.Scheme, Raw: uri, Query: u.Query()}

	switch u.Scheme {
	case "sqlite", "sqlite3":
		// sqlite3://./path/to.db or sqlite3:///absolute/path.db
		cfg.FilePath = u.Host + u.Path
		if cfg.FilePath == "" {
			cfg.FilePath = u.Opaque
		}
		return cfg, u.Scheme, nil
	}

	cfg.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Config{}, "", ormerr.Wrap(ormerr.InvalidConnectionURL, err, "registry: invalid port in URI")
		}
		cfg.Port = port
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	if len(u.Path) > 1 {
		cfg.Database = u.Path[1:]
	}
	return cfg, u.Scheme, nil
}
