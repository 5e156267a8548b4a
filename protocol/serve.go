package protocol

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/controller"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

const shutdownTimeout = 10 * time.Second

// serveCmd runs the control server, jobs are started and managed over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job control API",
	Example: `
olake-scaling serve --http-addr :8000 --state path/to/state

curl -X POST localhost:8000/jobs -d @job.json
curl localhost:8000/jobs/<job_id>/progress
curl -X POST localhost:8000/jobs/<job_id>/commit
`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cmd.Context(), stateBackend())
		if err != nil {
			return err
		}
		defer store.Close()

		manager := controller.NewManager(registry, store)
		server := NewServer(viper.GetString(constants.HTTPAddress), manager)

		serveErr := make(chan error, 1)
		go func() {
			logger.Infof("control server listening on %s", server.Addr)
			serveErr <- server.ListenAndServe()
		}()

		select {
		case err := <-serveErr:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-cmd.Context().Done():
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warnf("control server shutdown: %s", err)
		}
		return manager.Close()
	},
}
