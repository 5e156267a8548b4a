package protocol

import (
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/felixge/fgprof"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/controller"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

type jobResponse struct {
	JobID string `json:"job_id"`
}

// NewRouter exposes the job control surface of manager and the profiling
// endpoints
func NewRouter(manager *controller.Manager) *mux.Router {
	master := mux.NewRouter()
	api := master.PathPrefix("/jobs").Subrouter()
	api.HandleFunc("", listJobs(manager)).Methods(http.MethodGet)
	api.HandleFunc("", startJob(manager)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/progress", jobProgress(manager)).Methods(http.MethodGet)
	api.HandleFunc("/{id}/stop", stopJob(manager)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/commit", commitJob(manager)).Methods(http.MethodPost)

	master.HandleFunc("/debug/pprof", pprof.Index)
	master.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	master.Handle("/debug/pprof/profile", fgprof.Handler())
	master.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	master.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	master.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	master.Handle("/debug/pprof/block", pprof.Handler("block"))
	return master
}

func NewServer(address string, manager *controller.Manager) *http.Server {
	return &http.Server{
		Addr:              address,
		Handler:           NewRouter(manager),
		ReadTimeout:       time.Second * 60,
		ReadHeaderTimeout: time.Second * 60,
		IdleTimeout:       time.Second * 65,
	}
}

func listJobs(manager *controller.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, manager.Jobs())
	}
}

func startJob(manager *controller.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := types.JobConfig{}
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			respond(w, http.StatusBadRequest, errorResponse{Error: "invalid job config: " + err.Error()})
			return
		}
		started, err := manager.Start(r.Context(), job)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusCreated, jobResponse{JobID: started.JobID()})
	}
}

func jobProgress(manager *controller.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		progress, err := manager.Progress(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, progress)
	}
}

func stopJob(manager *controller.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := manager.Stop(id); err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, jobResponse{JobID: id})
	}
}

func commitJob(manager *controller.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := manager.Commit(id); err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, jobResponse{JobID: id})
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, constants.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, constants.ErrJobExists):
		status = http.StatusConflict
	case errors.Is(err, constants.ErrNonRetryable), errors.Is(err, constants.ErrUnsupported):
		status = http.StatusUnprocessableEntity
	}
	respond(w, status, errorResponse{Error: err.Error()})
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnf("failed to write response: %s", err)
	}
}
