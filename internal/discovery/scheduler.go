package discovery

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/jobs"
	"github.com/sells-group/price-discovery/internal/metrics"
	"github.com/sells-group/price-discovery/internal/model"
)

// Runner executes one cascade run.
type Runner interface {
	Run(ctx context.Context, req Request) (*Report, error)
}

// Catalog resolves ids to the records a cascade needs.
type Catalog interface {
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	GetServiceType(ctx context.Context, slug string) (*model.ServiceType, error)
}

// Scheduler starts cascade runs on the worker pool, at most one active run
// per (provider, service type) pair.
type Scheduler struct {
	jobs    jobs.Store
	pool    *jobs.Pool
	runner  Runner
	catalog Catalog
}

// NewScheduler creates a scheduler.
func NewScheduler(store jobs.Store, pool *jobs.Pool, runner Runner, catalog Catalog) *Scheduler {
	return &Scheduler{jobs: store, pool: pool, runner: runner, catalog: catalog}
}

// Trigger acquires the pair's job and queues a cascade run. When another
// run is already active the caller attaches to it (acquired=false). A full
// queue finishes the job as failed so a later trigger can retry.
func (s *Scheduler) Trigger(ctx context.Context, provider model.Provider, st model.ServiceType, query string) (model.DiscoveryJob, bool, error) {
	key := model.JobKey{ProviderID: provider.ID, ServiceType: st.Slug}
	job, acquired, err := s.jobs.TryAcquire(ctx, key)
	if err != nil {
		return job, false, eris.Wrapf(err, "discovery: acquire %s", key)
	}
	metrics.IncJobAcquisition(acquired)
	if !acquired {
		return job, false, nil
	}

	req := Request{Provider: provider, ServiceType: st, Query: query}
	err = s.pool.Submit("discovery:"+key.String(), func(ctx context.Context) {
		s.execute(ctx, req)
	})
	if err != nil {
		if ferr := s.jobs.Finish(ctx, key, model.JobFailed, "queue_full"); ferr != nil {
			zap.L().Warn("discovery: finish rejected job", zap.String("key", key.String()), zap.Error(ferr))
		}
		job.State = model.JobFailed
		return job, false, eris.Wrapf(err, "discovery: submit %s", key)
	}
	return job, true, nil
}

// TriggerByID loads the provider and service type, then calls Trigger.
func (s *Scheduler) TriggerByID(ctx context.Context, providerID, slug, query string) (model.DiscoveryJob, bool, error) {
	p, err := s.catalog.GetProvider(ctx, providerID)
	if err != nil {
		return model.DiscoveryJob{}, false, eris.Wrapf(err, "discovery: load provider %s", providerID)
	}
	st, err := s.catalog.GetServiceType(ctx, slug)
	if err != nil {
		return model.DiscoveryJob{}, false, eris.Wrapf(err, "discovery: load service type %s", slug)
	}
	return s.Trigger(ctx, *p, *st, query)
}

// TriggerMany fires discovery for each provider and returns how many new
// runs were queued. Failures are logged.
func (s *Scheduler) TriggerMany(ctx context.Context, providers []model.Provider, st model.ServiceType, query string) int {
	queued := 0
	for _, p := range providers {
		_, acquired, err := s.Trigger(ctx, p, st, query)
		if err != nil {
			zap.L().Warn("discovery: trigger failed",
				zap.String("provider_id", p.ID),
				zap.String("service_type", st.Slug),
				zap.Error(err),
			)
			continue
		}
		if acquired {
			queued++
		}
	}
	return queued
}

// Running reports whether any discovery job is active for the provider.
func (s *Scheduler) Running(ctx context.Context, providerID string) (bool, error) {
	active, err := s.jobs.Active(ctx, providerID)
	if err != nil {
		return false, eris.Wrapf(err, "discovery: active jobs for %s", providerID)
	}
	return len(active) > 0, nil
}

// Active returns the provider's pending or running jobs.
func (s *Scheduler) Active(ctx context.Context, providerID string) ([]model.DiscoveryJob, error) {
	return s.jobs.Active(ctx, providerID)
}

func (s *Scheduler) execute(ctx context.Context, req Request) {
	key := req.Key()
	log := zap.L().With(zap.String("key", key.String()))

	if err := s.jobs.Start(ctx, key); err != nil {
		log.Warn("discovery: start job", zap.Error(err))
		return
	}

	state, outcome := model.JobFailed, "error"
	report, err := s.runner.Run(ctx, req)
	switch {
	case err != nil:
		log.Error("discovery: cascade error", zap.Error(err))
		if report != nil {
			outcome = report.Outcome
		}
	case report != nil:
		state, outcome = report.State, report.Outcome
	}

	// Finish even when the pool is shutting down so the pair is not left
	// looking busy until the TTL.
	if err := s.jobs.Finish(context.WithoutCancel(ctx), key, state, outcome); err != nil {
		log.Warn("discovery: finish job", zap.Error(err))
	}
}
