package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/destination"
	"github.com/datazip-inc/olake-scaling/drivers"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/executor"
	"github.com/datazip-inc/olake-scaling/pkg/statestore"
	"github.com/datazip-inc/olake-scaling/splitter"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

// Controller drives one job: it marks the source position, copies every
// history slice and then follows the change log from the marked position
// until it is stopped or committed.
type Controller struct {
	job      types.JobConfig
	registry *drivers.Registry
	store    statestore.Store

	source  abstract.Driver
	writers *destination.WriterPool
	state   *types.State
	events  chan types.Event
	// cdc is false for sources without a change log, their jobs end after
	// the history phase
	cdc bool

	markMu sync.Mutex
	marker abstract.CDCReader

	mu         sync.Mutex
	phase      types.Phase
	failedTask string
	cause      error
	executors  map[string]*executor.Executor
	realtime   *executor.Executor
	applied    int64
	cancel     context.CancelFunc
	done       chan struct{}
}

// New validates the job and applies its defaults; a job without id gets one
func New(job types.JobConfig, registry *drivers.Registry, store statestore.Store) (*Controller, error) {
	job.SetDefaults()
	if job.JobID == "" {
		job.JobID = utils.ULID()
	}
	if err := utils.Validate(&job); err != nil {
		return nil, fmt.Errorf("%w: invalid job config: %s", constants.ErrNonRetryable, err)
	}
	if err := job.CheckTables(); err != nil {
		return nil, fmt.Errorf("%w: %s", constants.ErrNonRetryable, err)
	}
	return &Controller{
		job:       job,
		registry:  registry,
		store:     store,
		phase:     types.PhaseInitialized,
		executors: make(map[string]*executor.Executor),
		done:      make(chan struct{}),
	}, nil
}

func (c *Controller) JobID() string {
	return c.job.JobID
}

// Start prepares the job synchronously: it connects to both sides, records
// the consistency checkpoint and the history plan, or loads them when the
// job was started before. The phases then run in the background.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != types.PhaseInitialized || c.cancel != nil {
		defer c.mu.Unlock()
		return fmt.Errorf("%w: job[%s] is %s", constants.ErrJobExists, c.job.JobID, c.phase)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.mu.Unlock()

	pending, err := c.prepare(ctx)
	if err != nil {
		cancel()
		c.release()
		c.fail("", err)
		close(c.done)
		return err
	}

	c.events = make(chan types.Event, len(pending)+8)
	go c.run(runCtx, pending)
	return nil
}

func (c *Controller) prepare(ctx context.Context) ([]types.SyncConfiguration, error) {
	source, err := c.registry.Driver(c.job.Source.Type)
	if err != nil {
		return nil, err
	}
	if err := source.Setup(ctx, c.job.Source); err != nil {
		return nil, err
	}
	c.source = source

	init, err := c.registry.Importer(c.job.Target.Type)
	if err != nil {
		return nil, err
	}
	// one pool for every executor of the job
	if c.writers, err = destination.NewWriter(ctx, c.job.WriterConfig(), init); err != nil {
		return nil, err
	}

	marker, err := source.NewCDCReader(types.ReaderConfig{DataSource: c.job.Source, Tables: c.job.Tables})
	switch {
	case errors.Is(err, constants.ErrUnsupported):
		logger.Warnf("source[%s] has no change log, job[%s] ends after the history phase", c.job.Source.Type, c.job.JobID)
	case err != nil:
		return nil, err
	default:
		c.marker = marker
		c.cdc = true
	}

	return c.plan(ctx)
}

// plan loads the persisted state of the job, or marks the position and
// splits the tables for a new job. It returns the slices left to copy.
func (c *Controller) plan(ctx context.Context) ([]types.SyncConfiguration, error) {
	hash, err := c.job.Hash()
	if err != nil {
		return nil, err
	}

	state, err := c.store.Load(ctx, c.job.JobID)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
	case err != nil:
		return nil, err
	case state.ConfigHash != "" && state.ConfigHash != hash:
		return nil, fmt.Errorf("%w: config of job[%s] changed since it was started", constants.ErrNonRetryable, c.job.JobID)
	case state.IsCommitted():
		return nil, fmt.Errorf("%w: job[%s] is already committed", constants.ErrNonRetryable, c.job.JobID)
	case state.Initialized():
		c.setState(state)
		pending := state.PendingSlices()
		for _, slice := range pending {
			state.MarkSlice(slice.TaskID, types.SlicePending)
		}
		logger.Infof("resuming job[%s] from %s with %d pending slices", c.job.JobID, state.ResumeCheckpoint(), len(pending))
		return splitter.Restore(&c.job, pending)
	}

	state = types.NewState(c.job.JobID, hash)
	start := types.Checkpoint{}
	if c.marker != nil {
		// taken before any slice is read, changes committed later show up
		// in the change log
		cp, err := c.marker.MarkPosition(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to mark source position: %w", err)
		}
		start = *cp
	}
	state.SetStartCheckpoint(start)
	logger.Infof("job[%s] consistency checkpoint %s", c.job.JobID, start)

	slices, err := splitter.Split(ctx, &c.job, c.source)
	if err != nil {
		return nil, err
	}
	state.SetSlices(splitter.SliceStates(slices))
	state.SetPhase(types.PhaseHistorySync)
	if err := c.store.Save(ctx, state); err != nil {
		return nil, err
	}
	c.setState(state)
	return slices, nil
}

func (c *Controller) setState(state *types.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *Controller) run(ctx context.Context, pending []types.SyncConfiguration) {
	defer close(c.done)
	defer c.release()

	if len(pending) > 0 && !c.runHistory(ctx, pending) {
		return
	}
	if !c.cdc {
		c.setPhase(types.PhaseStopped)
		c.persist()
		logger.Infof("job[%s] copied every history slice", c.job.JobID)
		return
	}
	c.runRealtime(ctx)
}

// runHistory runs the slices with at most MaxParallelSlices executors at a
// time and reports whether every slice finished
func (c *Controller) runHistory(ctx context.Context, slices []types.SyncConfiguration) bool {
	c.setPhase(types.PhaseHistorySync)
	historyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(c.job.MaxParallelSlices))
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for _, slice := range slices {
			if err := sem.Acquire(historyCtx, 1); err != nil {
				return
			}
			exec := executor.New(slice, c.source, c.writers, c.events)
			c.mu.Lock()
			c.executors[slice.TaskID] = exec
			c.mu.Unlock()
			if err := exec.Start(historyCtx); err != nil {
				logger.Errorf("failed to start task[%s]: %s", slice.TaskID, err)
			}
		}
	}()

	abort := func() {
		cancel()
		<-launched
		c.stopExecutors()
		c.persist()
	}

	remaining := len(slices)
	for remaining > 0 {
		select {
		case event := <-c.events:
			switch event.Kind {
			case types.EventFinished:
				sem.Release(1)
				remaining--
				c.finishSlice(event)
			case types.EventExceptionExit:
				c.state.MarkSlice(event.TaskID, types.SliceFailed)
				c.fail(event.TaskID, event.Cause)
				abort()
				return false
			}
		case <-ctx.Done():
			c.setPhase(types.PhaseStopped)
			abort()
			return false
		}
	}
	<-launched
	logger.Infof("job[%s] history phase finished", c.job.JobID)
	return true
}

func (c *Controller) finishSlice(event types.Event) {
	c.mu.Lock()
	if exec, found := c.executors[event.TaskID]; found {
		delete(c.executors, event.TaskID)
		c.applied += exec.Records()
	}
	c.mu.Unlock()
	c.state.MarkSlice(event.TaskID, types.SliceFinished)
	c.persist()
	logger.Infof("task[%s] finished with %d records", event.TaskID, event.Records)
}

func (c *Controller) stopExecutors() {
	c.mu.Lock()
	executors := make([]*executor.Executor, 0, len(c.executors))
	for _, exec := range c.executors {
		executors = append(executors, exec)
	}
	c.mu.Unlock()
	for _, exec := range executors {
		exec.Stop()
	}
}

// runRealtime follows the change log from the resume checkpoint and persists
// the applied position periodically
func (c *Controller) runRealtime(ctx context.Context) {
	start := c.state.ResumeCheckpoint()
	exec := executor.New(splitter.Realtime(&c.job, start), c.source, c.writers, c.events)
	c.mu.Lock()
	c.realtime = exec
	c.mu.Unlock()
	c.setPhase(types.PhaseRealtimeSync)
	c.persist()
	logger.Infof("job[%s] realtime sync starting at %s", c.job.JobID, start)

	if err := exec.Start(ctx); err != nil {
		c.fail(exec.TaskID(), err)
		c.persist()
		return
	}

	ticker := time.NewTicker(constants.DefaultStateFlushPeriod)
	defer ticker.Stop()
	dirty := false
	for {
		select {
		case event := <-c.events:
			switch event.Kind {
			case types.EventCheckpointAdvanced:
				if event.Checkpoint != nil {
					c.state.SetCheckpoint(*event.Checkpoint)
					dirty = true
				}
			case types.EventExceptionExit:
				c.saveCheckpoint(exec)
				c.fail(event.TaskID, event.Cause)
				c.persist()
				return
			case types.EventFinished:
				logger.Warnf("change log of job[%s] ended", c.job.JobID)
				c.saveCheckpoint(exec)
				c.setPhase(types.PhaseStopped)
				c.persist()
				return
			}
		case <-ticker.C:
			if dirty {
				c.persist()
				dirty = false
			}
		case <-ctx.Done():
			exec.Stop()
			c.saveCheckpoint(exec)
			c.setPhase(types.PhaseStopped)
			c.persist()
			return
		}
	}
}

func (c *Controller) saveCheckpoint(exec *executor.Executor) {
	if cp := exec.Checkpoint(); cp != nil {
		c.state.SetCheckpoint(*cp)
	}
}

// Stop stops every running executor and returns once they quiesced
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-c.done
}

// Commit ends realtime sync for good: the applied checkpoint is persisted and
// the job can no longer be resumed
func (c *Controller) Commit() error {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	if phase != types.PhaseRealtimeSync && !(phase == types.PhaseStopped && !c.cdc) {
		return fmt.Errorf("job[%s] can not be committed in phase %s", c.job.JobID, phase)
	}

	c.Stop()
	if err := c.Err(); err != nil {
		return fmt.Errorf("job[%s] failed before commit: %w", c.job.JobID, err)
	}
	c.state.SetCommitted()
	if err := c.store.Save(context.Background(), c.state); err != nil {
		return err
	}
	logger.Infof("job[%s] committed at %s", c.job.JobID, c.state.ResumeCheckpoint())
	return nil
}

func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the job stopped and returns the failure cause, if any
func (c *Controller) Wait() error {
	<-c.done
	return c.Err()
}

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *Controller) Phase() types.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Progress reports slice counts during the history phase and the distance
// between the applied and the current source position during realtime sync.
func (c *Controller) Progress(ctx context.Context) types.Progress {
	c.mu.Lock()
	progress := types.Progress{
		JobID:          c.job.JobID,
		Phase:          c.phase,
		Status:         jobStatus(c.phase, c.cdc),
		FailedTask:     c.failedTask,
		RecordsApplied: c.applied,
		UpdatedAt:      time.Now().UTC(),
	}
	if c.cause != nil {
		progress.Cause = c.cause.Error()
	}
	for _, exec := range c.executors {
		progress.RecordsApplied += exec.Records()
	}
	realtime, state := c.realtime, c.state
	c.mu.Unlock()

	if state == nil {
		return progress
	}
	progress.CompletedSlices, progress.TotalSlices = state.SliceCounts()
	progress.StartCheckpoint = state.GetStartCheckpoint()
	progress.AppliedCheckpoint = state.ResumeCheckpoint()
	progress.Committed = state.IsCommitted()
	if realtime != nil {
		progress.RecordsApplied += realtime.Records()
		if cp := realtime.Checkpoint(); cp != nil {
			progress.AppliedCheckpoint = cp
		}
	}

	if progress.Phase == types.PhaseRealtimeSync && progress.AppliedCheckpoint != nil {
		c.markMu.Lock()
		if c.marker != nil {
			source, err := c.marker.SourcePosition(ctx)
			if err != nil {
				logger.Debugf("failed to read source position of job[%s]: %s", c.job.JobID, err)
			} else {
				progress.SourceCheckpoint = source
				if lag, ok := progress.AppliedCheckpoint.Distance(*source); ok {
					progress.Lag = &lag
				}
			}
		}
		c.markMu.Unlock()
	}
	return progress
}

// ProgressFromState reports a job that is not running in this process
func ProgressFromState(state *types.State) types.Progress {
	progress := types.Progress{
		JobID:             state.JobID,
		Phase:             state.GetPhase(),
		StartCheckpoint:   state.GetStartCheckpoint(),
		AppliedCheckpoint: state.ResumeCheckpoint(),
		Committed:         state.IsCommitted(),
		UpdatedAt:         state.UpdatedAt,
	}
	progress.CompletedSlices, progress.TotalSlices = state.SliceCounts()
	progress.Status = jobStatus(progress.Phase, true)
	if progress.Phase == types.PhaseStopped && progress.CompletedSlices == progress.TotalSlices && state.Checkpoint == nil {
		progress.Status = types.StatusFinishedHistory
	}
	return progress
}

func jobStatus(phase types.Phase, cdc bool) types.JobStatus {
	switch phase {
	case types.PhaseFailed:
		return types.StatusFailed
	case types.PhaseRealtimeSync:
		return types.StatusSyncingRealtime
	case types.PhaseStopped:
		return utils.Ternary(cdc, types.StatusStopped, types.StatusFinishedHistory).(types.JobStatus)
	default:
		return types.StatusRunning
	}
}

func (c *Controller) setPhase(phase types.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == types.PhaseFailed {
		return
	}
	c.phase = phase
	if c.state != nil {
		c.state.SetPhase(phase)
	}
}

// fail records the first failure of the job
func (c *Controller) fail(taskID string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == types.PhaseFailed {
		return
	}
	c.phase = types.PhaseFailed
	c.failedTask = taskID
	c.cause = cause
	if c.state != nil {
		c.state.SetPhase(types.PhaseFailed)
	}
	logger.Errorf("job[%s] failed in task[%s]: %s", c.job.JobID, taskID, cause)
}

func (c *Controller) persist() {
	if err := c.store.Save(context.Background(), c.state); err != nil {
		logger.Errorf("failed to persist state of job[%s]: %s", c.job.JobID, err)
	}
}

func (c *Controller) release() {
	err := utils.ErrExecSequential(
		utils.ErrExecFormat("failed to close change log marker: %s", c.closeMarker),
		utils.ErrExecFormat("failed to close target: %s", func() error {
			if c.writers == nil {
				return nil
			}
			return c.writers.Close()
		}),
		utils.ErrExecFormat("failed to close source: %s", func() error {
			if c.source == nil {
				return nil
			}
			return c.source.Close()
		}),
	)
	if err != nil {
		logger.Warnf("job[%s]: %s", c.job.JobID, err)
	}
}

func (c *Controller) closeMarker() error {
	c.markMu.Lock()
	defer c.markMu.Unlock()
	if c.marker == nil {
		return nil
	}
	err := c.marker.Close()
	c.marker = nil
	return err
}
