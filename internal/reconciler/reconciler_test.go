package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/cuongbtq/media-converter/internal/jobstore"
	"github.com/cuongbtq/media-converter/internal/queue"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, domain.Task) error {
	return errors.New("broker unreachable")
}

func setup(t *testing.T) (*jobstore.Store, *queue.Memory, *slog.Logger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlx.Connect("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	jobs := jobstore.NewStore(db, logger)
	require.NoError(t, jobs.Migrate(context.Background()))

	q := queue.NewMemory(time.Minute, logger)
	t.Cleanup(func() { q.Close() })
	return jobs, q, logger
}

func createJob(t *testing.T, jobs *jobstore.Store, createdAt time.Time) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:            uuid.NewString(),
		UserID:        "alice",
		Filename:      "a.mp4",
		ContentType:   "video/mp4",
		Status:        domain.StatusQueued,
		InputLocation: "/uploads/a.mp4",
		CreatedAt:     createdAt,
	}
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

func TestRunOnce_RepublishesStaleQueuedJobs(t *testing.T) {
	jobs, q, logger := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := createJob(t, jobs, now.Add(-time.Hour))
	createJob(t, jobs, now) // within grace period

	claimed := createJob(t, jobs, now.Add(-time.Hour))
	_, err := jobs.Transition(ctx, claimed.ID, domain.StatusQueued, domain.StatusProcessing, domain.TransitionPatch{})
	require.NoError(t, err)

	r := New(jobs, q, Config{Interval: time.Minute, GracePeriod: 10 * time.Minute}, logger)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Len())

	deliveries, err := q.Consume(ctx, "test")
	require.NoError(t, err)
	d := <-deliveries
	assert.Equal(t, stale.ID, d.Task.JobID)
	assert.Equal(t, stale.InputLocation, d.Task.InputLocation)
}

func TestRunOnce_SkipsRecentlyRepublished(t *testing.T) {
	jobs, q, logger := setup(t)
	ctx := context.Background()
	createJob(t, jobs, time.Now().UTC().Add(-time.Hour))

	r := New(jobs, q, Config{Interval: time.Minute, GracePeriod: 10 * time.Minute}, logger)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// After the grace period the job is eligible again
	r.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, q.Len())
}

func TestRunOnce_PublishFailureIsRetriedNextPass(t *testing.T) {
	jobs, q, logger := setup(t)
	ctx := context.Background()
	createJob(t, jobs, time.Now().UTC().Add(-time.Hour))

	r := New(jobs, failingPublisher{}, Config{Interval: time.Minute, GracePeriod: 10 * time.Minute}, logger)
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	r.publisher = q
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_StopsOnCancel(t *testing.T) {
	jobs, q, logger := setup(t)
	r := New(jobs, q, Config{Interval: 10 * time.Millisecond, GracePeriod: time.Minute}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
