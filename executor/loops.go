package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/pkg/channel"
	"github.com/datazip-inc/olake-scaling/pkg/merger"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/logger"
	"github.com/datazip-inc/olake-scaling/utils/safego"
)

// readLoop pushes every record of the reader into the channel. A failing
// reader is reopened, it resumes after the last record it returned; the
// attempt counter starts over once a reopened reader made progress.
func (e *Executor) readLoop(groupCtx, loopCtx context.Context, reader abstract.Reader, ch channel.Channel) (err error) {
	defer safego.Guard(&err)

	// snapshot pages are statements and run to completion, a change stream
	// read is interrupted by Stop
	readCtx := loopCtx
	if e.config.Kind != types.Realtime {
		readCtx = groupCtx
	}

	retries := e.config.Writer.RetryCount
	if retries <= 0 {
		retries = constants.DefaultRetryCount
	}
	wait := e.retryWait
	failures := 0
	for {
		progressed, err := e.pump(readCtx, loopCtx, reader, ch)
		if err == nil {
			break
		}
		if loopCtx.Err() != nil {
			return errStopped
		}
		if types.IsFatal(err) {
			return fmt.Errorf("reader of task[%s]: %w", e.config.TaskID, err)
		}
		if progressed {
			failures = 0
			wait = e.retryWait
		}
		failures++
		if failures > retries {
			return fmt.Errorf("reader of task[%s] failed after %d attempts: %w", e.config.TaskID, failures, err)
		}
		logger.Warnf("task[%s] reader attempt[%d] failed, reopening in %s: %s", e.config.TaskID, failures, wait, err)
		select {
		case <-loopCtx.Done():
			return errStopped
		case <-time.After(wait):
		}
		wait *= 2
	}

	if err := ch.Push(loopCtx, types.NewFinishedRecord()); err != nil {
		if loopCtx.Err() != nil {
			return errStopped
		}
		return err
	}
	return nil
}

// pump opens the reader and forwards records until the reader ends or fails
func (e *Executor) pump(readCtx, loopCtx context.Context, reader abstract.Reader, ch channel.Channel) (bool, error) {
	if err := reader.Open(readCtx); err != nil {
		return false, err
	}
	progressed := false
	for {
		if err := loopCtx.Err(); err != nil {
			return progressed, err
		}
		record, err := reader.Next(readCtx)
		if errors.Is(err, abstract.ErrEndOfStream) {
			return progressed, nil
		}
		if err != nil {
			return progressed, err
		}
		if err := ch.Push(loopCtx, record); err != nil {
			return progressed, err
		}
		progressed = true
	}
}

// writeLoop fetches merge windows, applies them and acknowledges them, until
// it receives the Finished record or the executor is stopped.
func (e *Executor) writeLoop(groupCtx, loopCtx context.Context, writer int, reader abstract.Reader, ch channel.Channel) (err error) {
	defer safego.Guard(&err)

	thread := e.writers.NewThread()
	defer func() {
		if cerr := thread.Close(); cerr != nil {
			logger.Warnf("task[%s] writer[%d] failed to close importer: %s", e.config.TaskID, writer, cerr)
		}
	}()
	cdc, _ := reader.(abstract.CDCReader)

	batchSize := e.config.Writer.BatchSize
	if batchSize <= 0 {
		batchSize = constants.DefaultBatchSize
	}
	timeout := e.config.Writer.FetchTimeout
	if timeout <= 0 {
		timeout = constants.DefaultFetchTimeout
	}

	for {
		if loopCtx.Err() != nil {
			return errStopped
		}
		records, err := ch.Fetch(loopCtx, writer, batchSize, timeout)
		if err != nil {
			if loopCtx.Err() != nil {
				return errStopped
			}
			return err
		}
		if len(records) == 0 {
			continue
		}

		batches, err := merger.Merge(records)
		if err != nil {
			return fmt.Errorf("task[%s] writer[%d]: %w", e.config.TaskID, writer, err)
		}
		for _, batch := range batches {
			if batch.Len() == 0 {
				continue
			}
			if err := thread.Write(groupCtx, batch); err != nil {
				return err
			}
			e.records.Add(int64(batch.Len()))
		}
		ch.Ack(records)
		e.advance(groupCtx, ch, cdc)

		if records[len(records)-1].IsFinished() {
			return nil
		}
	}
}

// advance publishes the durable position of the channel
func (e *Executor) advance(ctx context.Context, ch channel.Channel, cdc abstract.CDCReader) {
	position := ch.AckedPosition()
	if position == nil || !e.checkpoint.Advance(*position) {
		return
	}
	if cdc != nil {
		if err := cdc.Acknowledge(ctx, *position); err != nil {
			logger.Warnf("task[%s] failed to acknowledge %s: %s", e.config.TaskID, position, err)
		}
	}
	e.notify(types.Event{TaskID: e.config.TaskID, Kind: types.EventCheckpointAdvanced, Checkpoint: position, Records: e.Records()})
}
