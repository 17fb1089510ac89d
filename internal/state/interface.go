package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/foreman/internal/registry"
	"github.com/ShayCichocki/foreman/internal/supervisor"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// WorkerStore persists the worker roster.
type WorkerStore interface {
	LoadWorkers(ctx context.Context) ([]*models.Worker, error)
	SaveWorkers(ctx context.Context, workers []*models.Worker) error
}

// ProcessStore persists process snapshots across restarts.
type ProcessStore interface {
	SaveProcesses(ctx context.Context, procs []*models.ManagedProcess) error
	LoadProcesses(ctx context.Context) ([]*models.ManagedProcess, error)
}

// Migrator applies schema migrations.
type Migrator interface {
	Migrate() error
}

// Store is the complete persistence surface.
type Store interface {
	io.Closer
	Migrator
	WorkerStore
	ProcessStore
}

var (
	_ Store            = (*DB)(nil)
	_ registry.Loader  = (*DB)(nil)
	_ registry.Saver   = (*DB)(nil)
	_ supervisor.Saver = (*DB)(nil)
)
