// Package poolopts provides options for the backend connection pool.
package poolopts

import (
	"fmt"
	"time"

	"github.com/kart-io/memvault/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options contains connection pool configuration.
type Options struct {
	// MinSize is the number of connections created eagerly at startup.
	MinSize int `json:"min-size" mapstructure:"min-size"`

	// MaxSize is the maximum number of connections the pool may hold.
	MaxSize int `json:"max-size" mapstructure:"max-size"`

	// AcquireTimeout bounds how long an acquire waits for a free connection.
	AcquireTimeout time.Duration `json:"acquire-timeout" mapstructure:"acquire-timeout"`

	// MaxConnAge recycles connections older than this on release or reuse.
	MaxConnAge time.Duration `json:"max-conn-age" mapstructure:"max-conn-age"`

	// MaxIdleTime recycles connections idle longer than this.
	MaxIdleTime time.Duration `json:"max-idle-time" mapstructure:"max-idle-time"`

	// CloseGrace bounds how long Close waits for in-flight connections.
	CloseGrace time.Duration `json:"close-grace" mapstructure:"close-grace"`

	// HealthCheckOnAcquire runs a fast health check before handing out a
	// connection taken from the idle set.
	HealthCheckOnAcquire bool `json:"health-check-on-acquire" mapstructure:"health-check-on-acquire"`

	// Monitor enables periodic pool monitoring.
	Monitor bool `json:"monitor" mapstructure:"monitor"`

	// MonitorInterval is the monitoring sample interval.
	MonitorInterval time.Duration `json:"monitor-interval" mapstructure:"monitor-interval"`

	// MonitorSample is the number of idle connections health-checked per cycle.
	MonitorSample int `json:"monitor-sample" mapstructure:"monitor-sample"`

	// UtilizationAlert is the in-use fraction above which the monitor alerts.
	UtilizationAlert float64 `json:"utilization-alert" mapstructure:"utilization-alert"`

	// P95WaitAlert is the p95 acquire wait above which the monitor alerts.
	P95WaitAlert time.Duration `json:"p95-wait-alert" mapstructure:"p95-wait-alert"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		MinSize:              2,
		MaxSize:              10,
		AcquireTimeout:       10 * time.Second,
		MaxConnAge:           time.Hour,
		MaxIdleTime:          30 * time.Minute,
		CloseGrace:           30 * time.Second,
		HealthCheckOnAcquire: true,
		Monitor:              true,
		MonitorInterval:      30 * time.Second,
		MonitorSample:        3,
		UtilizationAlert:     0.9,
		P95WaitAlert:         100 * time.Millisecond,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.MinSize, options.Join(prefixes...)+"pool.min-size", o.MinSize, "Connections created eagerly at startup.")
	fs.IntVar(&o.MaxSize, options.Join(prefixes...)+"pool.max-size", o.MaxSize, "Maximum number of pooled connections.")
	fs.DurationVar(&o.AcquireTimeout, options.Join(prefixes...)+"pool.acquire-timeout", o.AcquireTimeout, "Maximum wait for a free connection.")
	fs.DurationVar(&o.MaxConnAge, options.Join(prefixes...)+"pool.max-conn-age", o.MaxConnAge, "Recycle connections older than this.")
	fs.DurationVar(&o.MaxIdleTime, options.Join(prefixes...)+"pool.max-idle-time", o.MaxIdleTime, "Recycle connections idle longer than this.")
	fs.DurationVar(&o.CloseGrace, options.Join(prefixes...)+"pool.close-grace", o.CloseGrace, "Grace period for in-flight connections on close.")
	fs.BoolVar(&o.HealthCheckOnAcquire, options.Join(prefixes...)+"pool.health-check-on-acquire", o.HealthCheckOnAcquire, "Run a fast health check on acquire.")
	fs.BoolVar(&o.Monitor, options.Join(prefixes...)+"pool.monitor", o.Monitor, "Enable periodic pool monitoring.")
	fs.DurationVar(&o.MonitorInterval, options.Join(prefixes...)+"pool.monitor-interval", o.MonitorInterval, "Pool monitoring sample interval.")
	fs.IntVar(&o.MonitorSample, options.Join(prefixes...)+"pool.monitor-sample", o.MonitorSample, "Idle connections health-checked per monitor cycle.")
	fs.Float64Var(&o.UtilizationAlert, options.Join(prefixes...)+"pool.utilization-alert", o.UtilizationAlert, "In-use fraction above which the monitor alerts.")
	fs.DurationVar(&o.P95WaitAlert, options.Join(prefixes...)+"pool.p95-wait-alert", o.P95WaitAlert, "P95 acquire wait above which the monitor alerts.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.MinSize < 0 {
		errs = append(errs, fmt.Errorf("pool.min-size must be >= 0, got %d", o.MinSize))
	}
	if o.MaxSize < 1 {
		errs = append(errs, fmt.Errorf("pool.max-size must be >= 1, got %d", o.MaxSize))
	}
	if o.MinSize > o.MaxSize {
		errs = append(errs, fmt.Errorf("pool.min-size (%d) cannot exceed pool.max-size (%d)", o.MinSize, o.MaxSize))
	}
	if o.AcquireTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pool.acquire-timeout must be positive"))
	}
	if o.MaxConnAge <= 0 {
		errs = append(errs, fmt.Errorf("pool.max-conn-age must be positive"))
	}
	if o.MaxIdleTime <= 0 {
		errs = append(errs, fmt.Errorf("pool.max-idle-time must be positive"))
	}
	if o.Monitor {
		if o.MonitorInterval <= 0 {
			errs = append(errs, fmt.Errorf("pool.monitor-interval must be positive"))
		}
		if o.MonitorSample < 0 {
			errs = append(errs, fmt.Errorf("pool.monitor-sample must be >= 0"))
		}
		if o.UtilizationAlert <= 0 || o.UtilizationAlert > 1 {
			errs = append(errs, fmt.Errorf("pool.utilization-alert must be in (0, 1], got %v", o.UtilizationAlert))
		}
		if o.P95WaitAlert <= 0 {
			errs = append(errs, fmt.Errorf("pool.p95-wait-alert must be positive"))
		}
	}
	return errs
}
