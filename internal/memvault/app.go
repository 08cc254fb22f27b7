package memvault

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/memvault/pkg/infra/app"
)

const (
	appName        = "memvault"
	appDescription = `Memvault Storage Service

A memory record store on Milvus with pooled connections.

This server provides:
  - Record storage with soft deletion and rollback tokens
  - Filtered bulk deletion with preview and batched execution
  - Retention sweeping of expired tombstones
  - Lifecycle classification of records by age`
)

// NewApp creates the memvault application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			return Run(opts)
		}),
	)
}

// Run starts memvault with the given options.
func Run(opts *Options) error {
	opts.Log.AddInitialField("service.name", appName)
	opts.Log.AddInitialField("service.version", app.GetVersion())
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting memvault...")

	srv, err := New(context.Background(), opts.Config())
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	logger.Info("Memvault is ready")
	return srv.Run()
}
