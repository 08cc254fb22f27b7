// Package bulkopts provides options for the bulk-mutation subsystem:
// bulk deletes, rollback, and retention sweeping.
package bulkopts

import (
	"fmt"
	"time"

	"github.com/kart-io/memvault/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options contains bulk-operation safety limits and lifecycle windows.
type Options struct {
	// MaxCount is the hard cap on records mutated by a single bulk operation.
	MaxCount int `json:"max-count" mapstructure:"max-count"`

	// BatchSize is the number of records processed per batch.
	BatchSize int `json:"batch-size" mapstructure:"batch-size"`

	// ConfirmThreshold requires explicit confirmation above this match count.
	ConfirmThreshold int `json:"confirm-threshold" mapstructure:"confirm-threshold"`

	// RollbackMaxAge is the window during which a soft-deleted batch can be
	// restored when age validation is requested.
	RollbackMaxAge time.Duration `json:"rollback-max-age" mapstructure:"rollback-max-age"`

	// RetentionWindow is how long soft-deleted records are kept before the
	// sweeper purges them permanently.
	RetentionWindow time.Duration `json:"retention-window" mapstructure:"retention-window"`

	// SweepInterval is how often the retention sweeper runs.
	SweepInterval time.Duration `json:"sweep-interval" mapstructure:"sweep-interval"`

	// SweepPageSize bounds memory during a sweep by paging the scan.
	SweepPageSize int `json:"sweep-page-size" mapstructure:"sweep-page-size"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		MaxCount:         1000,
		BatchSize:        100,
		ConfirmThreshold: 10,
		RollbackMaxAge:   24 * time.Hour,
		RetentionWindow:  168 * time.Hour,
		SweepInterval:    24 * time.Hour,
		SweepPageSize:    500,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.MaxCount, options.Join(prefixes...)+"bulk.max-count", o.MaxCount, "Hard cap on records mutated by one bulk operation.")
	fs.IntVar(&o.BatchSize, options.Join(prefixes...)+"bulk.batch-size", o.BatchSize, "Records processed per batch.")
	fs.IntVar(&o.ConfirmThreshold, options.Join(prefixes...)+"bulk.confirm-threshold", o.ConfirmThreshold, "Require confirmation above this match count.")
	fs.DurationVar(&o.RollbackMaxAge, options.Join(prefixes...)+"bulk.rollback-max-age", o.RollbackMaxAge, "Age-validated rollback window.")
	fs.DurationVar(&o.RetentionWindow, options.Join(prefixes...)+"bulk.retention-window", o.RetentionWindow, "Soft-deleted record retention before purge.")
	fs.DurationVar(&o.SweepInterval, options.Join(prefixes...)+"bulk.sweep-interval", o.SweepInterval, "Retention sweeper interval.")
	fs.IntVar(&o.SweepPageSize, options.Join(prefixes...)+"bulk.sweep-page-size", o.SweepPageSize, "Page size for retention sweeps.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.MaxCount < 1 {
		errs = append(errs, fmt.Errorf("bulk.max-count must be >= 1, got %d", o.MaxCount))
	}
	if o.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("bulk.batch-size must be >= 1, got %d", o.BatchSize))
	}
	if o.ConfirmThreshold < 1 {
		errs = append(errs, fmt.Errorf("bulk.confirm-threshold must be >= 1, got %d", o.ConfirmThreshold))
	}
	if o.ConfirmThreshold > o.MaxCount {
		errs = append(errs, fmt.Errorf("bulk.confirm-threshold (%d) cannot exceed bulk.max-count (%d)", o.ConfirmThreshold, o.MaxCount))
	}
	if o.RollbackMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("bulk.rollback-max-age must be positive"))
	}
	if o.RetentionWindow <= 0 {
		errs = append(errs, fmt.Errorf("bulk.retention-window must be positive"))
	}
	if o.RetentionWindow < o.RollbackMaxAge {
		errs = append(errs, fmt.Errorf("bulk.retention-window (%s) cannot be shorter than bulk.rollback-max-age (%s)", o.RetentionWindow, o.RollbackMaxAge))
	}
	if o.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("bulk.sweep-interval must be positive"))
	}
	if o.SweepPageSize < 1 {
		errs = append(errs, fmt.Errorf("bulk.sweep-page-size must be >= 1, got %d", o.SweepPageSize))
	}
	return errs
}
