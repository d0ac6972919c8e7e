package handler

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stadtnetz/lorabulk/internal/bulk"
	"github.com/stadtnetz/lorabulk/internal/dataset"
)

var (
	ErrUploadNotFound = errors.New("upload not found")
	ErrRunNotFound    = errors.New("run not found")
)

// uploadTTL is how long a parsed upload stays available for starting a run.
// runTTL is how long a finished run stays queryable before it is dropped;
// runs that are still executing never expire.
const (
	uploadTTL = 30 * time.Minute
	runTTL    = time.Hour
)

type upload struct {
	id        string
	data      *dataset.Dataset
	createdAt time.Time
}

type run struct {
	id         string
	exec       *bulk.Execution
	total      int
	startedAt  time.Time
	finishedAt time.Time
}

// JobManager tracks parsed uploads and live run executions for the web API.
// All access goes through the mutex; expired uploads are dropped by a
// background sweep.
type JobManager struct {
	mu      sync.RWMutex
	uploads map[string]*upload
	runs    map[string]*run
	stop    chan struct{}
}

func NewJobManager() *JobManager {
	m := &JobManager{
		uploads: make(map[string]*upload),
		runs:    make(map[string]*run),
		stop:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

func (m *JobManager) Close() {
	close(m.stop)
}

func (m *JobManager) AddUpload(data *dataset.Dataset) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.uploads[id] = &upload{id: id, data: data, createdAt: time.Now()}
	m.mu.Unlock()
	return id
}

func (m *JobManager) GetUpload(id string) (*dataset.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.uploads[id]
	if !ok {
		return nil, ErrUploadNotFound
	}
	return u.data, nil
}

func (m *JobManager) AddRun(exec *bulk.Execution, total int) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.runs[id] = &run{id: id, exec: exec, total: total, startedAt: time.Now()}
	m.mu.Unlock()
	return id
}

func (m *JobManager) GetRun(id string) (*bulk.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r.exec, nil
}

func (m *JobManager) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.expire(time.Now())
		}
	}
}

func (m *JobManager) expire(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.uploads {
		if now.Sub(u.createdAt) > uploadTTL {
			delete(m.uploads, id)
			slog.Debug("Expired stale upload", "upload_id", id)
		}
	}
	for id, r := range m.runs {
		select {
		case <-r.exec.Done():
		default:
			continue
		}
		if r.finishedAt.IsZero() {
			// First sweep after completion stamps the run; it ages out
			// from here.
			r.finishedAt = now
			continue
		}
		if now.Sub(r.finishedAt) > runTTL {
			delete(m.runs, id)
			slog.Debug("Expired finished run", "run_id", id)
		}
	}
}
