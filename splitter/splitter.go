package splitter

import (
	"context"
	"fmt"

	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

// HistoryTaskID names the history slice index of a table
func HistoryTaskID(jobID string, table string, index int) string {
	return fmt.Sprintf("%s/history/%s/%d", jobID, table, index)
}

// RealtimeTaskID names the single realtime task of a job
func RealtimeTaskID(jobID string) string {
	return fmt.Sprintf("%s/realtime", jobID)
}

// Split partitions every table of the job into job.Concurrency key ranges and
// returns one history slice per range.
func Split(ctx context.Context, job *types.JobConfig, source abstract.Driver) ([]types.SyncConfiguration, error) {
	writer := job.WriterConfig()
	var slices []types.SyncConfiguration
	for _, rule := range job.Tables {
		ranges, err := splitTable(ctx, job, source, rule)
		if err != nil {
			return nil, err
		}
		for i, reader := range ranges {
			slices = append(slices, types.SyncConfiguration{
				TaskID:          HistoryTaskID(job.JobID, rule.Source, i),
				Kind:            types.HistorySlice,
				Concurrency:     job.WriterConcurrency,
				ChannelCapacity: job.ChannelCapacity,
				Reader:          reader,
				Writer:          writer,
			})
		}
	}
	logger.Infof("job[%s] split into %d history slices", job.JobID, len(slices))
	return slices, nil
}

func splitTable(ctx context.Context, job *types.JobConfig, source abstract.Driver, rule types.TableRule) ([]types.ReaderConfig, error) {
	reader, err := source.NewSnapshotReader(types.ReaderConfig{
		DataSource: job.Source,
		Tables:     []types.TableRule{rule},
		FetchSize:  job.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	ranges, err := reader.Split(ctx, job.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to split table[%s]: %w", rule.Source, err)
	}
	return ranges, nil
}

// Realtime builds the configuration of the change stream that follows the
// history phase, starting at checkpoint.
func Realtime(job *types.JobConfig, checkpoint *types.Checkpoint) types.SyncConfiguration {
	var start *types.Checkpoint
	if checkpoint != nil {
		cp := *checkpoint
		start = &cp
	}
	return types.SyncConfiguration{
		TaskID:          RealtimeTaskID(job.JobID),
		Kind:            types.Realtime,
		Concurrency:     job.WriterConcurrency,
		ChannelCapacity: job.ChannelCapacity,
		Reader: types.ReaderConfig{
			DataSource: job.Source,
			Tables:     job.Tables,
			Checkpoint: start,
		},
		Writer:     job.WriterConfig(),
		Checkpoint: start,
	}
}

// SliceStates records the history plan so a restarted job reads the same ranges
func SliceStates(slices []types.SyncConfiguration) []*types.SliceState {
	states := make([]*types.SliceState, len(slices))
	for i, slice := range slices {
		state := &types.SliceState{
			TaskID: slice.TaskID,
			Table:  slice.Reader.Table().Source,
			Status: types.SlicePending,
		}
		if slice.Reader.Range != nil {
			state.Range = *slice.Reader.Range
		}
		states[i] = state
	}
	return states
}

// Restore rebuilds history slices from their persisted state
func Restore(job *types.JobConfig, states []types.SliceState) ([]types.SyncConfiguration, error) {
	writer := job.WriterConfig()
	slices := make([]types.SyncConfiguration, 0, len(states))
	for _, state := range states {
		rule, found := writer.Rule(state.Table)
		if !found {
			return nil, fmt.Errorf("slice[%s] refers to table[%s] which is not part of the job", state.TaskID, state.Table)
		}
		keyRange := state.Range
		slices = append(slices, types.SyncConfiguration{
			TaskID:          state.TaskID,
			Kind:            types.HistorySlice,
			Concurrency:     job.WriterConcurrency,
			ChannelCapacity: job.ChannelCapacity,
			Reader: types.ReaderConfig{
				DataSource: job.Source,
				Tables:     []types.TableRule{rule},
				Range:      &keyRange,
				FetchSize:  job.BatchSize,
			},
			Writer: writer,
		})
	}
	return slices, nil
}
