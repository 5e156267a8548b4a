package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/types"
)

// FileStore keeps one json document per job in a directory
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory[%s]: %s", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(jobID string) string {
	return filepath.Join(f.dir, jobID+constants.JSONExt)
}

func (f *FileStore) Load(_ context.Context, jobID string) (*types.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: job[%s]", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state of job[%s]: %s", jobID, err)
	}

	state := &types.State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to decode state of job[%s]: %s", jobID, err)
	}
	return state, checkVersion(state)
}

// Save replaces the document through a rename, a crash leaves the previous
// version in place
func (f *FileStore) Save(_ context.Context, state *types.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state of job[%s]: %s", state.JobID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.path(state.JobID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state of job[%s]: %s", state.JobID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state of job[%s]: %s", state.JobID, err)
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(jobID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete state of job[%s]: %s", jobID, err)
	}
	return nil
}

func (f *FileStore) List(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list state directory[%s]: %s", f.dir, err)
	}
	jobs := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), constants.JSONExt) {
			continue
		}
		jobs = append(jobs, strings.TrimSuffix(entry.Name(), constants.JSONExt))
	}
	return jobs, nil
}

func (f *FileStore) Close() error {
	return nil
}
