package db

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kurosaki/mentions/internal/config"
	"github.com/kurosaki/mentions/internal/jobs"
	"github.com/kurosaki/mentions/internal/models"
	"github.com/kurosaki/mentions/internal/yt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0    = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	dbSeq atomic.Int32
)

func newStore(t *testing.T) *JobStore {
	t.Helper()
	cfg := &config.Config{
		StoreDriver: config.StoreSQLite,
		SQLitePath:  fmt.Sprintf("file:jobstore%d?mode=memory&cache=shared", dbSeq.Add(1)),
	}
	gdb, err := Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewJobStore(gdb)
}

func newJob(id string, created time.Time) *models.Job {
	return models.NewJob(id, "dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ", models.OrderTime, 5, true, created)
}

func comment(id string, updated time.Time, text string) models.CommentRecord {
	return models.CommentRecord{
		CommentID:    id,
		VideoID:      "dQw4w9WgXcQ",
		ThreadID:     id,
		TextOriginal: text,
		TextPlain:    text,
		UpdatedAt:    updated,
		PublishedAt:  t0,
		FetchedAt:    t0,
		Source:       models.CommentSource,
	}
}

func commentIDs(records []models.CommentRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.CommentID)
	}
	return out
}

func TestJobStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	job := newJob("j1", t0)
	parent := "a"
	reply := comment("a.1", t0, "reply")
	reply.IsReply, reply.ParentID = true, &parent
	require.NoError(t, job.Seed([]models.CommentRecord{comment("a", t0, "first"), reply}))
	require.NoError(t, s.Create(ctx, job))
	assert.ErrorIs(t, s.Create(ctx, newJob("j1", t0)), jobs.ErrExists)

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Equal(t, "영상 dQw4w9WgXcQ", got.VideoTitle)
	assert.Equal(t, "대기 중...", got.Progress.CurrentPage)
	assert.True(t, got.CreatedAt.Equal(t0))
	assert.Equal(t, 2, got.CommentCount)
	assert.Equal(t, []string{"a", "a.1"}, commentIDs(got.Comments))
	require.NotNil(t, got.Comments[1].ParentID)
	assert.Equal(t, "a", *got.Comments[1].ParentID)
	assert.Nil(t, got.Comments[0].ParentID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestJobStore_PutLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Create(ctx, newJob("j1", t0)))

	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	require.NoError(t, job.Start())
	require.NoError(t, job.SetProgress(2, 150, "페이지 2 처리 중 (150개 수집)"))
	require.NoError(t, s.Put(ctx, job))

	running, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, running.Status)
	assert.Equal(t, models.Progress{Pages: 2, Comments: 150, CurrentPage: "페이지 2 처리 중 (150개 수집)"}, running.Progress)
	assert.Empty(t, running.Comments)

	records := []models.CommentRecord{comment("b", t0, "b"), comment("a", t0, "a")}
	require.NoError(t, running.Complete(records, t0.Add(time.Minute)))
	require.NoError(t, s.Put(ctx, running))

	done, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, done.Status)
	assert.Equal(t, 2, done.CommentCount)
	assert.Equal(t, []string{"b", "a"}, commentIDs(done.Comments), "merge order survives the round trip")
	require.NotNil(t, done.FinishedAt)
	assert.True(t, done.FinishedAt.Equal(t0.Add(time.Minute)))

	assert.ErrorIs(t, s.Put(ctx, newJob("missing", t0)), jobs.ErrNotFound)
}

func TestJobStore_PutReplacesNewerEdits(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	job := newJob("j1", t0)
	require.NoError(t, job.Seed([]models.CommentRecord{comment("a", t0, "v1")}))
	require.NoError(t, s.Create(ctx, job))

	require.NoError(t, job.Start())
	require.NoError(t, s.Put(ctx, job))
	require.NoError(t, job.Complete([]models.CommentRecord{comment("a", t0.Add(time.Hour), "v2"), comment("b", t0, "b")}, t0))
	require.NoError(t, s.Put(ctx, job))

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, "v2", got.Comments[0].TextOriginal)
	assert.Equal(t, "b", got.Comments[1].CommentID)
}

func TestJobStore_ListAndEvict(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	old := newJob("old", t0)
	require.NoError(t, old.Fail("CANCELLED", "수집이 중단되었습니다.", t0))
	running := newJob("running", t0.Add(time.Minute))
	require.NoError(t, running.Start())
	fresh := newJob("fresh", t0.Add(2*time.Hour))
	require.NoError(t, fresh.Start())
	require.NoError(t, fresh.Complete([]models.CommentRecord{comment("x", t0, "x")}, t0))

	for _, j := range []*models.Job{old, running, fresh} {
		require.NoError(t, s.Create(ctx, j))
	}

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "fresh", list[0].ID)
	assert.Equal(t, "old", list[2].ID)
	assert.Empty(t, list[0].Comments, "listing does not load comments")

	top, err := s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)

	n, err := s.Evict(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = s.Get(ctx, "running")
	assert.NoError(t, err)
}

type collectFunc func(ctx context.Context, req yt.Request, onProgress yt.ProgressFunc) ([]models.CommentRecord, error)

func (f collectFunc) Collect(ctx context.Context, req yt.Request, onProgress yt.ProgressFunc) ([]models.CommentRecord, error) {
	return f(ctx, req, onProgress)
}

func TestJobStore_BacksOrchestrator(t *testing.T) {
	s := newStore(t)
	records := []models.CommentRecord{comment("a", t0, "a"), comment("b", t0, "b")}
	collector := collectFunc(func(_ context.Context, _ yt.Request, onProgress yt.ProgressFunc) ([]models.CommentRecord, error) {
		onProgress(1, len(records))
		return records, nil
	})
	o := jobs.NewOrchestrator(s, collector)

	job, err := o.Submit(context.Background(), jobs.SubmitRequest{Reference: "dQw4w9WgXcQ"})
	require.NoError(t, err)
	o.Wait()

	done, err := s.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, done.Status)
	assert.Equal(t, []string{"a", "b"}, commentIDs(done.Comments))
}

func startJob(t *testing.T, s *JobStore, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob(id, t0)))
	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, job.Start())
	require.NoError(t, s.Put(ctx, job))
}

func TestJobStore_StaleSnapshotCannotReviveFinishedJob(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	startJob(t, s, "j1")

	worker, err := s.Get(ctx, "j1")
	require.NoError(t, err)

	api, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	require.NoError(t, api.Fail("CANCELLED", "수집이 중단되었습니다.", t0))
	require.NoError(t, s.Put(ctx, api))

	require.NoError(t, worker.SetProgress(1, 10, "페이지 1 처리 중 (10개 수집)"))
	assert.ErrorIs(t, s.Put(ctx, worker), models.ErrInvalidTransition)

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, "CANCELLED", got.ErrorCode)
	assert.Equal(t, "수집이 중단되었습니다.", got.Error)
	assert.Equal(t, 0, got.Progress.Pages)
}

func TestJobStore_StaleSnapshotCannotUndoRename(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	startJob(t, s, "j1")

	worker, err := s.GetSummary(ctx, "j1")
	require.NoError(t, err)

	api, err := s.GetSummary(ctx, "j1")
	require.NoError(t, err)
	api.Rename("launch teaser")
	require.NoError(t, s.PutSummary(ctx, api))

	require.NoError(t, worker.SetProgress(1, 10, "페이지 1 처리 중 (10개 수집)"))
	version := worker.Version
	assert.ErrorIs(t, s.PutSummary(ctx, worker), jobs.ErrConflict)
	assert.Equal(t, version, worker.Version, "a rejected write leaves the snapshot version alone")

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "launch teaser", got.VideoTitle)
	assert.Equal(t, 0, got.Progress.Pages)
}

func TestJobStore_SummaryLeavesCommentsAlone(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	job := newJob("j1", t0)
	require.NoError(t, job.Seed([]models.CommentRecord{comment("a", t0, "a"), comment("b", t0, "b")}))
	require.NoError(t, s.Create(ctx, job))

	summary, err := s.GetSummary(ctx, "j1")
	require.NoError(t, err)
	assert.Nil(t, summary.Comments)
	assert.Equal(t, 2, summary.CommentCount)

	require.NoError(t, summary.Start())
	require.NoError(t, s.PutSummary(ctx, summary))
	require.NoError(t, summary.Fail("CANCELLED", "수집이 중단되었습니다.", t0))
	require.NoError(t, s.PutSummary(ctx, summary))

	_, err = s.GetSummary(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, []string{"a", "b"}, commentIDs(got.Comments))
}

type dispatchFunc func(ctx context.Context, jobID string) error

func (f dispatchFunc) Dispatch(ctx context.Context, jobID string) error { return f(ctx, jobID) }

func TestJobStore_CancelFromAnotherOrchestrator(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	reached, resume := make(chan struct{}), make(chan struct{})
	collector := collectFunc(func(ctx context.Context, _ yt.Request, onProgress yt.ProgressFunc) ([]models.CommentRecord, error) {
		onProgress(1, 1)
		close(reached)
		<-resume
		onProgress(2, 2)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	api := jobs.NewOrchestrator(s, collector, jobs.WithDispatcher(dispatchFunc(func(context.Context, string) error { return nil })))
	worker := jobs.NewOrchestrator(s, collector)

	job, err := api.Submit(ctx, jobs.SubmitRequest{Reference: "dQw4w9WgXcQ"})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- worker.Run(ctx, job.ID) }()

	<-reached
	require.NoError(t, api.Cancel(ctx, job.ID))
	close(resume)

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker kept running after the job was cancelled")
	}

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, jobs.CodeCancelled, got.ErrorCode)
	assert.Equal(t, 1, got.Progress.Pages)
}
