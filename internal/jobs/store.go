package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/kurosaki/mentions/internal/models"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrExists   = errors.New("job already exists")
	ErrConflict = errors.New("job was modified concurrently")
)

// Store keeps job records keyed by id. Get and List return snapshots; callers
// change a job by writing a modified snapshot back with Put.
//
// Put fails with ErrConflict when the record was written since the snapshot
// was read, and with models.ErrInvalidTransition when it would move a
// finished job out of its terminal status. A successful Put bumps
// job.Version.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Put(ctx context.Context, job *models.Job) error
	// List returns up to limit jobs, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*models.Job, error)
	// Evict removes terminal jobs created before the cutoff.
	Evict(ctx context.Context, before time.Time) (int, error)
}

// SummaryStore is implemented by stores that can read and write a job without
// loading its comments. PutSummary never touches the stored comments.
type SummaryStore interface {
	GetSummary(ctx context.Context, id string) (*models.Job, error)
	PutSummary(ctx context.Context, job *models.Job) error
}
