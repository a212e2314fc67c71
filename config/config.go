// Package config holds the recognized evh options (spec §6) and validates
// them at construction, functional-options style — grounded on
// shaovie-goev's Option func(*Options) pattern, generalized to the full
// option set the reactor recognizes.
package config

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/evh/evh/errs"
)

const (
	DefaultThreads               = 4
	DefaultReadSlabSize          = 512
	MinReadSlabSize              = 25
	DefaultReadSlabCount         = 1000
	DefaultTimeoutMillis         = 1000
	DefaultHouseKeeperFreqMillis = 10000
	DefaultStatsUpdateMillis     = 5000
	DefaultMaxHandlesPerThread   = 0 // 0 == unlimited
)

// TLSServerConfig mirrors spec §6's TlsServerConfig: certificate, private
// key, and an optional SNI map of hostname to an alternate cert/key pair.
type TLSServerConfig struct {
	CertFile string
	KeyFile  string
	SNI      map[string]*tls.Certificate
}

// TLSClientConfig mirrors spec §6's TlsClientConfig.
type TLSClientConfig struct {
	ServerName string
	RootCAs    *x509.CertPool // caller-populated trust anchors
}

// Config is the fully-resolved, validated set of EVH options.
type Config struct {
	Threads               int
	ReadSlabSize          int
	ReadSlabCount         int
	TimeoutMillis         int
	HouseKeeperFreqMillis int
	StatsUpdateMillis     int
	Debug                 bool
	TLSServer             *TLSServerConfig
	TLSClient             *TLSClientConfig
	ReusePort             bool
	MaxHandlesPerThread   int // soft cap; 0 == unlimited, per spec §9
}

// Option mutates a Config under construction.
type Option func(*Config)

// EvhThreads sets the worker thread count.
func EvhThreads(n int) Option { return func(c *Config) { c.Threads = n } }

// EvhReadSlabSize sets the per-slab payload+trailer size in bytes.
func EvhReadSlabSize(n int) Option { return func(c *Config) { c.ReadSlabSize = n } }

// EvhReadSlabCount sets the number of slabs allocated per worker.
func EvhReadSlabCount(n int) Option { return func(c *Config) { c.ReadSlabCount = n } }

// EvhTimeout sets the poller wait cap in milliseconds.
func EvhTimeout(ms int) Option { return func(c *Config) { c.TimeoutMillis = ms } }

// EvhHouseKeeperFrequencyMillis sets the housekeeper tick interval.
func EvhHouseKeeperFrequencyMillis(ms int) Option {
	return func(c *Config) { c.HouseKeeperFreqMillis = ms }
}

// EvhStatsUpdateMillis sets the stats snapshot interval.
func EvhStatsUpdateMillis(ms int) Option { return func(c *Config) { c.StatsUpdateMillis = ms } }

// Debug toggles verbose logging.
func Debug(v bool) Option { return func(c *Config) { c.Debug = v } }

// WithTLSServer attaches a server-side TLS engine configuration.
func WithTLSServer(tc *TLSServerConfig) Option { return func(c *Config) { c.TLSServer = tc } }

// WithTLSClient attaches a client-side TLS engine configuration.
func WithTLSClient(tc *TLSClientConfig) Option { return func(c *Config) { c.TLSClient = tc } }

// ReusePort enables SO_REUSEPORT accept distribution.
func ReusePort(v bool) Option { return func(c *Config) { c.ReusePort = v } }

// MaxHandlesPerThread sets the soft per-worker handle cap (0 = unlimited).
func MaxHandlesPerThread(n int) Option { return func(c *Config) { c.MaxHandlesPerThread = n } }

// New builds a Config from defaults plus the given options, then validates
// it, failing fast the way gotcp-epoll's New fails fast on bad epoll setup.
func New(opts ...Option) (*Config, error) {
	c := &Config{
		Threads:               DefaultThreads,
		ReadSlabSize:          DefaultReadSlabSize,
		ReadSlabCount:         DefaultReadSlabCount,
		TimeoutMillis:         DefaultTimeoutMillis,
		HouseKeeperFreqMillis: DefaultHouseKeeperFreqMillis,
		StatsUpdateMillis:     DefaultStatsUpdateMillis,
		MaxHandlesPerThread:   DefaultMaxHandlesPerThread,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch {
	case c.Threads <= 0:
		return errs.ConfigurationError("EvhThreads must be > 0")
	case c.ReadSlabSize < MinReadSlabSize:
		return errs.ConfigurationError("EvhReadSlabSize must be >= 25")
	case c.ReadSlabCount <= 0:
		return errs.ConfigurationError("EvhReadSlabCount must be > 0")
	case c.TimeoutMillis <= 0:
		return errs.ConfigurationError("EvhTimeout must be > 0")
	case c.HouseKeeperFreqMillis <= 0:
		return errs.ConfigurationError("EvhHouseKeeperFrequencyMillis must be > 0")
	case c.StatsUpdateMillis <= 0:
		return errs.ConfigurationError("EvhStatsUpdateMillis must be > 0")
	case c.MaxHandlesPerThread < 0:
		return errs.ConfigurationError("MaxHandlesPerThread must be >= 0")
	}
	return nil
}

// SlabPayloadSize is the usable payload window of a slab: the configured
// slab size minus the 4-byte trailing next-pointer (spec §3/§4.3).
func (c *Config) SlabPayloadSize() int { return c.ReadSlabSize - 4 }
