package protocol

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/controller"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

// syncCmd runs one job in the foreground until it fails, ends or the process
// is interrupted
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a migration job",
	Long:  `Sync copies every table slice by slice and then applies the change log from the position marked before the copy started. A job that was interrupted resumes from its persisted state.`,
	Example: `
// Start or resume a job:
olake-scaling sync --config path/to/job.yaml

// Keep state in a sqlite database:
olake-scaling sync --config path/to/job.yaml --state path/to/state.db
`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		job, err := loadJob()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), job.StateBackend)
		if err != nil {
			return err
		}
		defer store.Close()

		manager := controller.NewManager(registry, store)
		running, err := manager.Start(cmd.Context(), *job)
		if err != nil {
			return err
		}

		logger.StatsLogger(cmd.Context(), constants.DefaultStatsPeriod, func() map[string]any {
			progress := running.Progress(cmd.Context())
			return map[string]any{
				"job_id":           progress.JobID,
				"status":           progress.Status,
				"slices":           fmt.Sprintf("%d/%d", progress.CompletedSlices, progress.TotalSlices),
				"records_applied":  progress.RecordsApplied,
				"checkpoint":       progress.AppliedCheckpoint,
				"source_lag_bytes": progress.Lag,
			}
		})

		select {
		case <-cmd.Context().Done():
			logger.Infof("interrupted, stopping job[%s]", running.JobID())
			running.Stop()
		case <-running.Done():
		}

		progress := running.Progress(cmd.Context())
		logger.Infof("job[%s] ended with status %s, %d records applied", progress.JobID, progress.Status, progress.RecordsApplied)
		return running.Err()
	},
}
