package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/destination"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/pkg/channel"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

type State string

const (
	Created  State = "CREATED"
	Running  State = "RUNNING"
	Finished State = "FINISHED"
	Failed   State = "FAILED"
	Stopped  State = "STOPPED"
)

var errStopped = errors.New("executor stopped")

// Executor binds one reader to its writer loops through a channel. History
// slices end on their own, a realtime executor runs until it is stopped.
type Executor struct {
	config  types.SyncConfiguration
	source  abstract.Driver
	writers *destination.WriterPool
	events  chan<- types.Event

	checkpoint *types.AtomicCheckpoint
	records    atomic.Int64
	retryWait  time.Duration

	mu    sync.Mutex
	state State
	err   error
	stop  context.CancelFunc
	done  chan struct{}
}

// New creates an executor; events receives its terminal event and, for
// realtime executors, CHECKPOINT_ADVANCED hints.
func New(config types.SyncConfiguration, source abstract.Driver, writers *destination.WriterPool, events chan<- types.Event) *Executor {
	return &Executor{
		config:     config,
		source:     source,
		writers:    writers,
		events:     events,
		checkpoint: types.NewAtomicCheckpoint(config.Checkpoint),
		retryWait:  constants.DefaultRetryWait,
		state:      Created,
		done:       make(chan struct{}),
	}
}

func (e *Executor) TaskID() string {
	return e.config.TaskID
}

func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the cause of a failed executor
func (e *Executor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Checkpoint returns the newest position applied on the target
func (e *Executor) Checkpoint() *types.Checkpoint {
	return e.checkpoint.Load()
}

// Records returns the number of net records applied by this executor
func (e *Executor) Records() int64 {
	return e.records.Load()
}

// Start launches the reader and writer loops. ctx bounds the whole run, Stop
// ends it cooperatively.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Created {
		defer e.mu.Unlock()
		return fmt.Errorf("%w: task[%s] is %s", constants.ErrExecutorClosed, e.config.TaskID, e.state)
	}

	reader, err := e.newReader()
	if err != nil {
		e.state = Failed
		e.err = err
		e.mu.Unlock()
		close(e.done)
		e.emit(ctx, types.Event{TaskID: e.config.TaskID, Kind: types.EventExceptionExit, Cause: err})
		return nil
	}

	stopCtx, stop := context.WithCancel(ctx)
	e.stop = stop
	e.state = Running
	e.mu.Unlock()

	go e.run(ctx, stopCtx, reader)
	return nil
}

func (e *Executor) newReader() (abstract.Reader, error) {
	if e.config.Kind == types.Realtime {
		return e.source.NewCDCReader(e.config.Reader)
	}
	return e.source.NewSnapshotReader(e.config.Reader)
}

// Stop asks the loops to end after their current step and waits for them
func (e *Executor) Stop() {
	e.mu.Lock()
	stop := e.stop
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
	<-e.done
}

// Wait blocks until the executor reached a terminal state
func (e *Executor) Wait() error {
	<-e.done
	return e.Err()
}

func (e *Executor) Done() <-chan struct{} {
	return e.done
}

func (e *Executor) run(ctx, stopCtx context.Context, reader abstract.Reader) {
	defer close(e.done)
	defer e.stop()

	writerConfigs := e.config.WriterConfigs()
	ch := channel.New(e.config.ChannelCapacity, len(writerConfigs), e.config.Kind == types.Realtime)
	defer ch.Close()

	logger.Infof("task[%s] starting with %d writers", e.config.TaskID, len(writerConfigs))

	// group cancels every loop once one of them fails; loopCtx additionally
	// ends when Stop is called
	group := utils.NewCGroup(ctx)
	loopCtx, cancelLoops := context.WithCancel(group.Ctx())
	defer cancelLoops()
	go func() {
		select {
		case <-stopCtx.Done():
			cancelLoops()
		case <-loopCtx.Done():
		}
	}()

	group.Add(func(groupCtx context.Context) error {
		return e.readLoop(groupCtx, loopCtx, reader, ch)
	})
	for i := range writerConfigs {
		group.Add(func(groupCtx context.Context) error {
			return e.writeLoop(groupCtx, loopCtx, i, reader, ch)
		})
	}
	err := group.Block()
	if cerr := reader.Close(); cerr != nil {
		logger.Warnf("task[%s] failed to close reader: %s", e.config.TaskID, cerr)
	}

	// stopCtx also ends with ctx
	interrupted := stopCtx.Err() != nil
	e.mu.Lock()
	switch {
	case err != nil && !errors.Is(err, errStopped) && !(interrupted && errors.Is(err, context.Canceled)):
		e.state = Failed
		e.err = err
	case interrupted:
		e.state = Stopped
	default:
		e.state = Finished
	}
	state, cause := e.state, e.err
	e.mu.Unlock()

	switch state {
	case Failed:
		logger.Errorf("task[%s] failed: %s", e.config.TaskID, cause)
		e.emit(ctx, types.Event{TaskID: e.config.TaskID, Kind: types.EventExceptionExit, Cause: cause, Checkpoint: e.Checkpoint(), Records: e.Records()})
	case Finished:
		logger.Infof("task[%s] finished, %d records applied", e.config.TaskID, e.Records())
		e.emit(ctx, types.Event{TaskID: e.config.TaskID, Kind: types.EventFinished, Checkpoint: e.Checkpoint(), Records: e.Records()})
	default:
		logger.Infof("task[%s] stopped at %v", e.config.TaskID, e.Checkpoint())
	}
}

// emit delivers a terminal event unless the run context is gone
func (e *Executor) emit(ctx context.Context, event types.Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- event:
	case <-ctx.Done():
	}
}

// notify delivers a progress hint without blocking the writer
func (e *Executor) notify(event types.Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- event:
	default:
	}
}
