// Package cacheopts provides retrieve-result cache configuration options.
package cacheopts

import (
	"time"

	"github.com/kart-io/memvault/pkg/options"
	redisopts "github.com/kart-io/memvault/pkg/options/redis"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options contains cache configuration.
type Options struct {
	// Enabled toggles the retrieve-result cache.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// TTL is the cache entry expiry.
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// KeyPrefix prefixes every cache key.
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// Redis holds the Redis connection configuration.
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`
}

// NewOptions creates new Options with defaults. The cache is disabled by
// default; retrieval correctness never depends on it.
func NewOptions() *Options {
	return &Options{
		Enabled:   false,
		TTL:       5 * time.Minute,
		KeyPrefix: "memvault:retrieve:",
		Redis:     redisopts.NewOptions(),
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, options.Join(prefixes...)+"cache.enabled", o.Enabled, "Enable the retrieve-result cache.")
	fs.DurationVar(&o.TTL, options.Join(prefixes...)+"cache.ttl", o.TTL, "Cache entry TTL.")
	fs.StringVar(&o.KeyPrefix, options.Join(prefixes...)+"cache.key-prefix", o.KeyPrefix, "Cache key prefix.")

	if o.Redis == nil {
		o.Redis = redisopts.NewOptions()
	}
	o.Redis.AddFlags(fs, prefixes...)
}

// Validate validates the cache options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Enabled && o.Redis != nil {
		errs = append(errs, o.Redis.Validate()...)
	}
	return errs
}
