package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
)

// Re-evaluation job states.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// reEvaluateTimeout bounds one re-evaluation run.
const reEvaluateTimeout = 10 * time.Minute

// jobRetention is how long finished jobs stay pollable.
const jobRetention = time.Hour

// Job is one asynchronous re-evaluation run.
type Job struct {
	ID         string     `json:"job_id"`
	SystemID   uuid.UUID  `json:"system_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// ElapsedSeconds reports how long the job has been running.
func (j *Job) ElapsedSeconds() float64 {
	end := time.Now()
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return end.Sub(j.StartedAt).Seconds()
}

type jobManager struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newJobManager() *jobManager {
	return &jobManager{jobs: make(map[string]*Job)}
}

func (m *jobManager) add(j *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Drop stale finished jobs while we are here.
	for id, old := range m.jobs {
		if old.FinishedAt != nil && time.Since(*old.FinishedAt) > jobRetention {
			delete(m.jobs, id)
		}
	}
	m.jobs[j.ID] = j
}

func (m *jobManager) get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

func (m *jobManager) running(systemID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.SystemID == systemID && j.Status == JobRunning {
			return true
		}
	}
	return false
}

func (m *jobManager) finish(id, status, message, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		now := time.Now().UTC()
		j.Status = status
		j.FinishedAt = &now
		j.Message = message
		j.Error = errMsg
	}
}

// StartReEvaluate begins an asynchronous re-evaluation of a system:
// cached template scores are dropped, recent event scores deleted, and
// the scoring pass re-run with fresh LLM calls. Returns immediately
// with a pollable job.
func (p *Pipeline) StartReEvaluate(ctx context.Context, systemID uuid.UUID) (Job, error) {
	sys, err := p.store.GetSystem(ctx, systemID)
	if err != nil {
		return Job{}, err
	}
	if p.jobs.running(systemID) {
		return Job{}, apperr.New(apperr.CodeConflict, apperr.ClientError,
			"a re-evaluation is already running for this system")
	}

	job := &Job{
		ID:        uuid.NewString(),
		SystemID:  systemID,
		Status:    JobRunning,
		StartedAt: time.Now().UTC(),
	}
	p.jobs.add(job)

	// The job outlives the request; it is cancelled only by shutdown
	// or its own timeout.
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), reEvaluateTimeout)
		defer cancel()

		if err := p.reEvaluate(runCtx, sys); err != nil {
			p.jobs.finish(job.ID, JobFailed, "", err.Error())
			p.logger.Warn("Re-evaluation failed",
				zap.String("system", sys.Name), zap.Error(err))
			return
		}
		p.jobs.finish(job.ID, JobCompleted, fmt.Sprintf("re-evaluated system %s", sys.Name), "")
		p.logger.Info("Re-evaluation completed", zap.String("system", sys.Name))
	}()

	return *job, nil
}

// GetJob returns the state of a re-evaluation job.
func (p *Pipeline) GetJob(id string) (Job, error) {
	j, ok := p.jobs.get(id)
	if !ok {
		return Job{}, apperr.NewNotFound("re-evaluation job", id)
	}
	return j, nil
}

func (p *Pipeline) reEvaluate(ctx context.Context, sys *model.MonitoredSystem) error {
	dash := p.resolver.Dashboard(ctx)
	since := time.Now().UTC().AddDate(0, 0, -dash.ScoreDisplayWindowDays)

	if _, err := p.store.ClearTemplateScoresForSystem(ctx, sys.ID); err != nil {
		return err
	}
	p.templates.Invalidate(sys.ID)

	deleted, err := p.store.DeleteEventScoresForSystem(ctx, sys.ID, since)
	if err != nil {
		return err
	}
	p.logger.Debug("Cleared scores for re-evaluation",
		zap.String("system", sys.Name), zap.Int64("deleted_scores", deleted))

	return p.scoreSystem(ctx, sys, model.RunTypeReEvaluate)
}
