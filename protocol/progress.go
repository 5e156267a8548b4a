package protocol

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datazip-inc/olake-scaling/controller"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

// progressCmd reports the persisted state of a job, it works while the job
// runs in another process
var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show the persisted progress of a job",
	Example: `
olake-scaling progress --job-id orders_migration --state path/to/state
`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		id := jobID
		backend := stateBackend()
		if configPath != "" {
			job, err := loadJob()
			if err != nil {
				return err
			}
			backend = job.StateBackend
			if id == "" {
				id = job.JobID
			}
		}
		if id == "" {
			return fmt.Errorf("--job-id not passed")
		}

		store, err := openStore(cmd.Context(), backend)
		if err != nil {
			return err
		}
		defer store.Close()

		manager := controller.NewManager(registry, store)
		progress, err := manager.Progress(cmd.Context(), id)
		if err != nil {
			return err
		}
		logger.Info(progress)
		return nil
	},
}
