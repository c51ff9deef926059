package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kurosaki/mentions/internal/models"
	"github.com/kurosaki/mentions/internal/yt"
	"github.com/rs/zerolog"
)

const (
	titleLookupTimeout = 10 * time.Second
	maxUpdateAttempts  = 5
)

// Collector runs one collection pass; *yt.Collector implements it.
type Collector interface {
	Collect(ctx context.Context, req yt.Request, onProgress yt.ProgressFunc) ([]models.CommentRecord, error)
}

// TitleLookup returns a video title, or "" when it cannot be found.
type TitleLookup interface {
	VideoTitle(ctx context.Context, videoID string) string
}

// Dispatcher hands a queued job to whoever runs it. Without one the
// orchestrator runs jobs on its own goroutines.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

type SubmitRequest struct {
	Reference      string
	Order          string
	MaxPages       int
	IncludeReplies bool
}

// Orchestrator creates jobs, runs collections and records their progress and
// outcome.
type Orchestrator struct {
	store      Store
	collector  Collector
	titles     TitleLookup
	dispatcher Dispatcher
	logger     zerolog.Logger
	timeout    time.Duration
	now        func() time.Time

	locks keyedMutex

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

type Option func(*Orchestrator)

func WithTitleLookup(t TitleLookup) Option {
	return func(o *Orchestrator) { o.titles = t }
}

func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithJobTimeout bounds the wall-clock time of a single run. 0 disables it.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(store Store, collector Collector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		collector: collector,
		logger:    zerolog.Nop(),
		now:       time.Now,
		locks:     keyedMutex{locks: make(map[string]*refLock)},
		cancels:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.base, o.stop = context.WithCancel(context.Background())
	return o
}

// Submit validates the request, stores a queued job and dispatches it. It
// never waits for the collection itself.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	videoID, ok := yt.ParseVideoID(req.Reference)
	if !ok {
		return nil, ErrInvalidReference
	}
	order := req.Order
	if order == "" {
		order = models.OrderTime
	}
	if order != models.OrderTime && order != models.OrderRelevance {
		return nil, ErrInvalidOrder
	}
	if req.MaxPages < 0 {
		return nil, ErrInvalidMaxPages
	}

	job := models.NewJob(newJobID(), videoID, strings.TrimSpace(req.Reference), order, req.MaxPages, req.IncludeReplies, o.now().UTC())
	if err := o.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.logger.Info().Str("job_id", job.ID).Str("video_id", videoID).Msg("job queued")

	if err := o.dispatch(ctx, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

// Recollect queues a new run for the video of a finished job. The new job
// starts from the previous job's comments and merges the fresh ones on top.
func (o *Orchestrator) Recollect(ctx context.Context, prevID string) (*models.Job, error) {
	prev, err := o.store.Get(ctx, prevID)
	if err != nil {
		return nil, err
	}
	if !prev.Status.Terminal() {
		return nil, ErrJobActive
	}

	job := models.NewJob(newJobID(), prev.VideoID, prev.VideoURL, prev.Order, prev.MaxPages, prev.IncludeReplies, o.now().UTC())
	job.VideoTitle = prev.VideoTitle
	if err := job.Seed(prev.Comments); err != nil {
		return nil, err
	}
	if err := o.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.logger.Info().Str("job_id", job.ID).Str("previous_job_id", prevID).Int("seeded", job.CommentCount).Msg("job queued for recollection")

	if err := o.dispatch(ctx, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, jobID string) error {
	if o.dispatcher == nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.Run(o.base, jobID); err != nil {
				o.logger.Error().Err(err).Str("job_id", jobID).Msg("job run failed")
			}
		}()
		return nil
	}

	if err := o.dispatcher.Dispatch(ctx, jobID); err != nil {
		_, failErr := o.updateSummary(context.WithoutCancel(ctx), jobID, func(j *models.Job) error {
			return j.Fail(CodeDispatch, "수집 작업을 시작하지 못했습니다: "+err.Error(), o.now().UTC())
		})
		return errors.Join(fmt.Errorf("dispatch job %s: %w", jobID, err), failErr)
	}
	return nil
}

// Run collects a queued job to completion and records the outcome. Collection
// failures end up on the job; the returned error is for store failures only.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	var cancel context.CancelFunc
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	o.register(jobID, cancel)
	defer o.unregister(jobID)
	// store writes outlive cancellation so the outcome is always recorded
	storeCtx := context.WithoutCancel(ctx)

	job, err := o.updateSummary(storeCtx, jobID, func(j *models.Job) error { return j.Start() })
	if errors.Is(err, models.ErrInvalidTransition) {
		// cancelled while queued, or redelivered after another run took it
		o.logger.Info().Err(err).Str("job_id", jobID).Msg("job not queued, run skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	log := o.logger.With().Str("job_id", jobID).Str("video_id", job.VideoID).Logger()
	log.Info().Str("order", job.Order).Int("max_pages", job.MaxPages).Bool("include_replies", job.IncludeReplies).Msg("collection started")

	o.refreshTitle(ctx, storeCtx, job)

	onProgress := func(pages, comments int) {
		msg := fmt.Sprintf("페이지 %d 처리 중 (%d개 수집)", pages, comments)
		_, err := o.updateSummary(storeCtx, jobID, func(j *models.Job) error { return j.SetProgress(pages, comments, msg) })
		switch {
		case errors.Is(err, models.ErrInvalidTransition):
			// finished elsewhere, e.g. cancelled through another process
			cancel()
		case err != nil:
			log.Warn().Err(err).Int("pages", pages).Msg("progress update failed")
		}
	}

	records, err := o.collect(ctx, job, onProgress)

	now := o.now().UTC()
	if err != nil {
		code, msg := TranslateError(err)
		log.Warn().Err(err).Str("code", code).Msg("collection failed")
		_, err = o.updateSummary(storeCtx, jobID, func(j *models.Job) error { return j.Fail(code, msg, now) })
	} else {
		var done *models.Job
		done, err = o.update(storeCtx, jobID, func(j *models.Job) error { return j.Complete(records, now) })
		if err == nil {
			log.Info().Int("collected", len(records)).Int("total", done.CommentCount).Msg("collection complete")
		}
	}

	if errors.Is(err, models.ErrInvalidTransition) {
		log.Info().Err(err).Msg("job already finished, outcome discarded")
		return nil
	}
	return err
}

func (o *Orchestrator) collect(ctx context.Context, job *models.Job, onProgress yt.ProgressFunc) (records []models.CommentRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.collector.Collect(ctx, yt.Request{
		VideoID:        job.VideoID,
		VideoURL:       job.VideoURL,
		Order:          job.Order,
		MaxPages:       job.MaxPages,
		IncludeReplies: job.IncludeReplies,
	}, onProgress)
}

// refreshTitle replaces the placeholder title unless the user renamed the job meanwhile.
func (o *Orchestrator) refreshTitle(ctx, storeCtx context.Context, job *models.Job) {
	if o.titles == nil || job.VideoTitle != models.PlaceholderTitle(job.VideoID) {
		return
	}
	lookupCtx, cancel := context.WithTimeout(ctx, titleLookupTimeout)
	title := o.titles.VideoTitle(lookupCtx, job.VideoID)
	cancel()
	if title == "" {
		return
	}
	_, err := o.updateSummary(storeCtx, job.ID, func(j *models.Job) error {
		if j.VideoTitle == models.PlaceholderTitle(j.VideoID) {
			j.Rename(title)
		}
		return nil
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("title update failed")
	}
}

// Cancel stops a job. A running job stops before its next upstream request; a
// queued job fails immediately.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	_, err := o.updateSummary(ctx, jobID, func(j *models.Job) error {
		return j.Fail(CodeCancelled, "수집이 중단되었습니다.", o.now().UTC())
	})
	return err
}

func (o *Orchestrator) Rename(ctx context.Context, jobID, title string) (*models.Job, error) {
	return o.updateSummary(ctx, jobID, func(j *models.Job) error {
		j.Rename(strings.TrimSpace(title))
		return nil
	})
}

func (o *Orchestrator) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return o.store.Get(ctx, jobID)
}

func (o *Orchestrator) List(ctx context.Context, limit int) ([]*models.Job, error) {
	return o.store.List(ctx, limit)
}

// StartJanitor evicts finished jobs older than ttl every interval until ctx ends.
func (o *Orchestrator) StartJanitor(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.base.Done():
				return
			case <-ticker.C:
				n, err := o.store.Evict(ctx, o.now().Add(-ttl))
				if err != nil {
					o.logger.Warn().Err(err).Msg("job eviction failed")
				} else if n > 0 {
					o.logger.Info().Int("evicted", n).Msg("evicted expired jobs")
				}
			}
		}
	}()
}

// Shutdown cancels in-process runs and waits for them to record their outcome.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every in-process run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// update applies fn to a fresh snapshot of the job and writes it back. A
// write that lost to another process is retried on a new snapshot.
func (o *Orchestrator) update(ctx context.Context, jobID string, fn func(*models.Job) error) (*models.Job, error) {
	return o.modify(ctx, jobID, o.store.Get, o.store.Put, fn)
}

// updateSummary is update for changes that leave the comments alone.
func (o *Orchestrator) updateSummary(ctx context.Context, jobID string, fn func(*models.Job) error) (*models.Job, error) {
	if s, ok := o.store.(SummaryStore); ok {
		return o.modify(ctx, jobID, s.GetSummary, s.PutSummary, fn)
	}
	return o.update(ctx, jobID, fn)
}

func (o *Orchestrator) modify(
	ctx context.Context,
	jobID string,
	get func(context.Context, string) (*models.Job, error),
	put func(context.Context, *models.Job) error,
	fn func(*models.Job) error,
) (*models.Job, error) {
	unlock := o.locks.lock(jobID)
	defer unlock()

	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var job *models.Job
		job, err = get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if err := fn(job); err != nil {
			return nil, err
		}
		if err = put(ctx, job); err == nil {
			return job, nil
		}
		if !errors.Is(err, ErrConflict) {
			break
		}
		o.logger.Debug().Str("job_id", jobID).Int("attempt", attempt+1).Msg("job changed underneath, retrying write")
	}
	return nil, fmt.Errorf("save job %s: %w", jobID, err)
}

func (o *Orchestrator) register(jobID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(jobID string) {
	o.mu.Lock()
	delete(o.cancels, jobID)
	o.mu.Unlock()
}

func newJobID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// keyedMutex gives every job id its own lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
