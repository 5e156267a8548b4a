package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/controller"
	"github.com/datazip-inc/olake-scaling/drivers"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/pkg/statestore"
	"github.com/datazip-inc/olake-scaling/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *controller.Manager) {
	t.Helper()
	store, err := statestore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	manager := controller.NewManager(drivers.NewRegistry(), store)
	server := httptest.NewServer(NewRouter(manager))
	t.Cleanup(func() {
		server.Close()
		manager.Close()
	})
	return server, manager
}

func sqliteDatabase(t *testing.T, name string, statements ...string) types.DataSourceConfig {
	t.Helper()
	config := types.DataSourceConfig{Type: constants.SQLite, Database: filepath.Join(t.TempDir(), name)}
	client, err := jdbc.Connect(context.Background(), config)
	require.NoError(t, err)
	defer client.Close()
	for _, statement := range statements {
		_, err := client.Exec(statement)
		require.NoError(t, err)
	}
	return config
}

func decode[T any](t *testing.T, response *http.Response) T {
	t.Helper()
	defer response.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(response.Body).Decode(&out))
	return out
}

func TestServer_JobLifecycle(t *testing.T) {
	server, _ := newTestServer(t)
	job := types.JobConfig{
		JobID: "copy_users",
		Source: sqliteDatabase(t, "source.db",
			`CREATE TABLE users (id INTEGER PRIMARY KEY, status TEXT)`,
			`INSERT INTO users (id, status) VALUES (1, 'a'), (2, 'b'), (3, 'c')`),
		Target:              sqliteDatabase(t, "target.db", `CREATE TABLE users (id INTEGER PRIMARY KEY, status TEXT)`),
		Tables:              []types.TableRule{{Source: "users"}},
		FetchTimeoutSeconds: 0.05,
	}
	body, err := json.Marshal(job)
	require.NoError(t, err)

	response, err := http.Post(server.URL+"/jobs", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, response.StatusCode)
	assert.Equal(t, "copy_users", decode[jobResponse](t, response).JobID)

	assert.Eventually(t, func() bool {
		response, err := http.Get(server.URL + "/jobs/copy_users/progress")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		var progress types.Progress
		if response.StatusCode != http.StatusOK || json.NewDecoder(response.Body).Decode(&progress) != nil {
			return false
		}
		return progress.Status == types.StatusFinishedHistory && progress.RecordsApplied == 3
	}, 10*time.Second, 20*time.Millisecond)

	response, err = http.Get(server.URL + "/jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{"copy_users"}, decode[[]string](t, response))

	response, err = http.Post(server.URL+"/jobs/copy_users/commit", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()

	response, err = http.Post(server.URL+"/jobs", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, response.StatusCode, "committed jobs are not restarted")
	response.Body.Close()
}

func TestServer_Errors(t *testing.T) {
	server, _ := newTestServer(t)

	for _, tc := range []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown job progress", http.MethodGet, "/jobs/missing/progress", "", http.StatusNotFound},
		{"unknown job stop", http.MethodPost, "/jobs/missing/stop", "", http.StatusNotFound},
		{"unknown job commit", http.MethodPost, "/jobs/missing/commit", "", http.StatusNotFound},
		{"malformed body", http.MethodPost, "/jobs", "{", http.StatusBadRequest},
		{"invalid config", http.MethodPost, "/jobs", `{"tables": []}`, http.StatusUnprocessableEntity},
		{"wrong method", http.MethodDelete, "/jobs", "", http.StatusMethodNotAllowed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			request, err := http.NewRequest(tc.method, server.URL+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err)
			response, err := http.DefaultClient.Do(request)
			require.NoError(t, err)
			defer response.Body.Close()
			assert.Equal(t, tc.status, response.StatusCode)
		})
	}
}
