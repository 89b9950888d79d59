package planner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

// Jobs runs asynchronous planning requests. Large inputs are offloaded here
// when the caller selects async mode explicitly; the engine never decides
// that implicitly.
type Jobs struct {
	Service *Service
	Store   store.Store
	Log     zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewJobs(svc *Service, st store.Store, log zerolog.Logger) *Jobs {
	return &Jobs{Service: svc, Store: st, Log: log, cancels: map[string]context.CancelFunc{}}
}

// Start schedules the request and returns immediately with a pending job.
func (j *Jobs) Start(req model.PlanRequest) (model.PlanJob, error) {
	now := time.Now().UTC()
	job := model.PlanJob{ID: uuid.New().String(), Status: model.JobPending, CreatedAt: now, UpdatedAt: now}
	if err := j.Store.SavePlanJob(context.Background(), job); err != nil {
		return model.PlanJob{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.mu.Lock()
	j.cancels[job.ID] = cancel
	j.mu.Unlock()

	go j.run(ctx, job, req)
	return job, nil
}

func (j *Jobs) run(ctx context.Context, job model.PlanJob, req model.PlanRequest) {
	job.Status = model.JobRunning
	job.UpdatedAt = time.Now().UTC()
	_ = j.Store.SavePlanJob(context.Background(), job)

	result, err := j.Service.Plan(ctx, req)

	// Retire the cancel handle before the terminal state becomes visible,
	// so Cancel on a finished job reports false.
	j.mu.Lock()
	if cancel, ok := j.cancels[job.ID]; ok {
		cancel()
		delete(j.cancels, job.ID)
	}
	j.mu.Unlock()

	job.UpdatedAt = time.Now().UTC()
	switch {
	case errors.Is(err, context.Canceled):
		job.Status = model.JobCancelled
	case err != nil:
		job.Status = model.JobFailed
		job.Error = err.Error()
	default:
		job.Status = model.JobDone
		job.Result = &result
	}
	if err := j.Store.SavePlanJob(context.Background(), job); err != nil {
		j.Log.Error().Err(err).Str("job", job.ID).Msg("save plan job")
	}
}

// Cancel aborts a running job. Routes not yet persisted are discarded.
func (j *Jobs) Cancel(jobID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	cancel, ok := j.cancels[jobID]
	if ok {
		cancel()
		delete(j.cancels, jobID)
	}
	return ok
}

// Get returns the job's current state.
func (j *Jobs) Get(ctx context.Context, jobID string) (model.PlanJob, error) {
	return j.Store.GetPlanJob(ctx, jobID)
}
