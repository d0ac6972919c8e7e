package handler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtnetz/lorabulk/internal/bulk"
	"github.com/stadtnetz/lorabulk/internal/dataset"
	"github.com/stadtnetz/lorabulk/internal/keymap"
)

func TestJobManagerUploads(t *testing.T) {
	m := NewJobManager()
	defer m.Close()

	data := &dataset.Dataset{Filename: "devices.csv"}
	id := m.AddUpload(data)
	require.NotEmpty(t, id)

	got, err := m.GetUpload(id)
	require.NoError(t, err)
	assert.Same(t, data, got)

	_, err = m.GetUpload("unknown")
	assert.ErrorIs(t, err, ErrUploadNotFound)
}

func TestJobManagerExpiresUploads(t *testing.T) {
	m := NewJobManager()
	defer m.Close()

	id := m.AddUpload(&dataset.Dataset{Filename: "devices.csv"})

	m.expire(time.Now().Add(uploadTTL + time.Minute))

	_, err := m.GetUpload(id)
	assert.ErrorIs(t, err, ErrUploadNotFound)
}

func TestJobManagerExpiresFinishedRuns(t *testing.T) {
	m := NewJobManager()
	defer m.Close()

	runner := bulk.NewRunner(newFakeConn(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	exec, err := runner.Run(context.Background(), bulk.Job{
		Records: []bulk.DeviceRecord{{
			DevEUI:          "A84041F4935D6EEA",
			Name:            "Sensor 1",
			ApplicationID:   "52f14cd4-c6f1-4fbd-8f87-4025e1d49242",
			DeviceProfileID: "8ad02259-c996-43b0-b37b-8a8e813c360f",
			Keys:            keymap.RawKeys{AppKey: strings.Repeat("A", 32)},
		}},
		Policy:  bulk.DuplicateSkip,
		Version: keymap.LoRaWAN103,
	})
	require.NoError(t, err)
	exec.Wait()

	id := m.AddRun(exec, 1)

	// The first sweep after completion only stamps the run, so a client
	// polling shortly after the finish still sees it.
	now := time.Now()
	m.expire(now)
	_, err = m.GetRun(id)
	require.NoError(t, err)

	m.expire(now.Add(runTTL + time.Minute))
	_, err = m.GetRun(id)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestJobManagerUnknownRun(t *testing.T) {
	m := NewJobManager()
	defer m.Close()

	_, err := m.GetRun("unknown")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
