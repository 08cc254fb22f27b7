// Package options defines the generic options interface shared by all
// memvault configuration surfaces.
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// Join concatenates prefixes with "." and appends a trailing "." when the
// result is non-empty. Used to build flag names like "pool.min-size" or
// "backup.pool.min-size".
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// IOptions is implemented by every per-concern options package.
type IOptions interface {
	// Validate validates the options and may complete missing values.
	Validate() []error

	// AddFlags registers the options with the given flagset.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}
