// Package jobs tracks ephemeral discovery jobs per (provider, service type)
// and runs background work on a bounded worker pool.
package jobs

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/price-discovery/internal/model"
)

// ErrInvalidTransition is returned when a job is started or finished from
// the wrong state.
var ErrInvalidTransition = eris.New("jobs: invalid state transition")

// DefaultTTL bounds how long any job record is kept.
const DefaultTTL = 15 * time.Minute

// Store is the job/polling state store. TryAcquire is the only gate that
// starts paid discovery work for a pair.
type Store interface {
	// TryAcquire creates a pending job when none exists or the existing one
	// is terminal (acquired=true). Otherwise it returns the active job
	// with acquired=false.
	TryAcquire(ctx context.Context, key model.JobKey) (model.DiscoveryJob, bool, error)
	// Start moves a pending job to running.
	Start(ctx context.Context, key model.JobKey) error
	// Finish moves an active job to a terminal state.
	Finish(ctx context.Context, key model.JobKey, state model.JobState, outcome string) error
	// Get returns the job for key, or nil when there is none.
	Get(ctx context.Context, key model.JobKey) (*model.DiscoveryJob, error)
	// Active returns the provider's pending or running jobs.
	Active(ctx context.Context, providerID string) ([]model.DiscoveryJob, error)
}

func validateKey(key model.JobKey) error {
	if key.ProviderID == "" || key.ServiceType == "" {
		return eris.Errorf("jobs: invalid key %q", key.String())
	}
	return nil
}

func newJob(key model.JobKey, attempt int, now time.Time) model.DiscoveryJob {
	return model.DiscoveryJob{
		Key:       key,
		State:     model.JobPending,
		Attempt:   attempt,
		CreatedAt: now,
	}
}

// applyStart and applyFinish hold the transition rules shared by stores.
func applyStart(job *model.DiscoveryJob, now time.Time) error {
	if job.State != model.JobPending {
		return eris.Wrapf(ErrInvalidTransition, "%s: %s -> running", job.Key, job.State)
	}
	job.State = model.JobRunning
	job.StartedAt = &now
	return nil
}

func applyFinish(job *model.DiscoveryJob, state model.JobState, outcome string, now time.Time) error {
	if !state.Terminal() {
		return eris.Wrapf(ErrInvalidTransition, "%s: %s is not terminal", job.Key, state)
	}
	if job.State.Terminal() {
		return eris.Wrapf(ErrInvalidTransition, "%s: already %s", job.Key, job.State)
	}
	job.State = state
	job.Outcome = outcome
	job.FinishedAt = &now
	return nil
}
