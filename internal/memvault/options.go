package memvault

import (
	"fmt"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	bulkopts "github.com/kart-io/memvault/pkg/options/bulk"
	cacheopts "github.com/kart-io/memvault/pkg/options/cache"
	logopts "github.com/kart-io/memvault/pkg/options/logger"
	milvusopts "github.com/kart-io/memvault/pkg/options/milvus"
	poolopts "github.com/kart-io/memvault/pkg/options/pool"
	httpopts "github.com/kart-io/memvault/pkg/options/server/http"
)

// Options contains all memvault options.
type Options struct {
	// Backend selects the storage backend ("milvus" or "memory").
	Backend string `json:"backend" mapstructure:"backend"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// HTTP contains the HTTP server configuration.
	HTTP *httpopts.Options `json:"http" mapstructure:"http"`

	// Milvus contains Milvus database configuration.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// Pool contains connection pool configuration.
	Pool *poolopts.Options `json:"pool" mapstructure:"pool"`

	// Bulk contains bulk-operation and retention configuration.
	Bulk *bulkopts.Options `json:"bulk" mapstructure:"bulk"`

	// Cache contains the record cache configuration.
	Cache *cacheopts.Options `json:"cache" mapstructure:"cache"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Backend: BackendMilvus,
		Log:     logopts.NewOptions(),
		HTTP:    httpopts.NewOptions(),
		Milvus:  milvusopts.NewOptions(),
		Pool:    poolopts.NewOptions(),
		Bulk:    bulkopts.NewOptions(),
		Cache:   cacheopts.NewOptions(),
	}
}

// AddFlags adds all memvault flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Backend, "backend", o.Backend, "Storage backend (milvus|memory).")
	o.Log.AddFlags(fs)
	o.HTTP.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.Pool.AddFlags(fs)
	o.Bulk.AddFlags(fs)
	o.Cache.AddFlags(fs)
}

// Validate validates all options.
func (o *Options) Validate() error {
	var errs []error

	if o.Backend != BackendMilvus && o.Backend != BackendMemory {
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendMilvus, BackendMemory, o.Backend))
	}
	if err := o.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, o.HTTP.Validate()...)
	errs = append(errs, o.Milvus.Validate()...)
	errs = append(errs, o.Pool.Validate()...)
	errs = append(errs, o.Bulk.Validate()...)
	errs = append(errs, o.Cache.Validate()...)

	return utilerrors.NewAggregate(errs)
}

// Complete fills in any missing option sections.
func (o *Options) Complete() error {
	if o.Log == nil {
		o.Log = logopts.NewOptions()
	}
	if o.HTTP == nil {
		o.HTTP = httpopts.NewOptions()
	}
	if o.Milvus == nil {
		o.Milvus = milvusopts.NewOptions()
	}
	if o.Pool == nil {
		o.Pool = poolopts.NewOptions()
	}
	if o.Bulk == nil {
		o.Bulk = bulkopts.NewOptions()
	}
	if o.Cache == nil {
		o.Cache = cacheopts.NewOptions()
	}
	return nil
}

// Config assembles the server configuration from the options.
func (o *Options) Config() *Config {
	return &Config{
		Backend: o.Backend,
		HTTP:    o.HTTP,
		Milvus:  o.Milvus,
		Pool:    o.Pool,
		Bulk:    o.Bulk,
		Cache:   o.Cache,
	}
}
