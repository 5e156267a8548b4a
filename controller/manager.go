package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers"
	"github.com/datazip-inc/olake-scaling/pkg/statestore"
	"github.com/datazip-inc/olake-scaling/types"
)

// Manager is the job control surface: start, stop, progress and commit by
// job id
type Manager struct {
	registry *drivers.Registry
	store    statestore.Store

	mu   sync.Mutex
	jobs map[string]*Controller
}

func NewManager(registry *drivers.Registry, store statestore.Store) *Manager {
	return &Manager{
		registry: registry,
		store:    store,
		jobs:     make(map[string]*Controller),
	}
}

// Start launches a job, or resumes it when state was persisted for its id
func (m *Manager) Start(ctx context.Context, job types.JobConfig) (*Controller, error) {
	controller, err := New(job, m.registry, m.store)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if running, found := m.jobs[controller.JobID()]; found && !isDone(running) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: job[%s]", constants.ErrJobExists, controller.JobID())
	}
	m.jobs[controller.JobID()] = controller
	m.mu.Unlock()

	return controller, controller.Start(ctx)
}

func (m *Manager) Get(jobID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	controller, found := m.jobs[jobID]
	if !found {
		return nil, fmt.Errorf("%w: job[%s]", constants.ErrJobNotFound, jobID)
	}
	return controller, nil
}

func (m *Manager) Stop(jobID string) error {
	controller, err := m.Get(jobID)
	if err != nil {
		return err
	}
	controller.Stop()
	return nil
}

func (m *Manager) Commit(jobID string) error {
	controller, err := m.Get(jobID)
	if err != nil {
		return err
	}
	return controller.Commit()
}

// Progress reports a job of this process, or the persisted state of a job
// that is not running here
func (m *Manager) Progress(ctx context.Context, jobID string) (types.Progress, error) {
	if controller, err := m.Get(jobID); err == nil {
		return controller.Progress(ctx), nil
	}
	state, err := m.store.Load(ctx, jobID)
	if errors.Is(err, statestore.ErrNotFound) {
		return types.Progress{}, fmt.Errorf("%w: job[%s]", constants.ErrJobNotFound, jobID)
	}
	if err != nil {
		return types.Progress{}, err
	}
	return ProgressFromState(state), nil
}

// Jobs lists the jobs started by this process
func (m *Manager) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every job and reports the ones that had failed
func (m *Manager) Close() error {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.jobs))
	for _, controller := range m.jobs {
		controllers = append(controllers, controller)
	}
	m.mu.Unlock()

	var errs error
	for _, controller := range controllers {
		controller.Stop()
		if err := controller.Err(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("job[%s]: %w", controller.JobID(), err))
		}
	}
	return errs
}

func isDone(controller *Controller) bool {
	select {
	case <-controller.Done():
		return true
	default:
		return false
	}
}
