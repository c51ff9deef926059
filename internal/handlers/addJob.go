package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kurosaki/mentions/internal/jobs"
	"github.com/kurosaki/mentions/internal/models"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Jobs is the job API the handlers need; *jobs.Orchestrator implements it.
type Jobs interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*models.Job, error)
	Recollect(ctx context.Context, jobID string) (*models.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Rename(ctx context.Context, jobID, title string) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context, limit int) ([]*models.Job, error)
}

// VideoLookup returns video metadata; *yt.MetadataClient implements it.
type VideoLookup interface {
	VideoDetails(ctx context.Context, videoID string) (*models.Video, error)
}

type Handler struct {
	jobs            Jobs
	videos          VideoLookup
	defaultMaxPages int
	logger          zerolog.Logger
	now             func() time.Time
}

func New(j Jobs, videos VideoLookup, defaultMaxPages int, logger zerolog.Logger) *Handler {
	return &Handler{
		jobs:            j,
		videos:          videos,
		defaultMaxPages: defaultMaxPages,
		logger:          logger,
		now:             time.Now,
	}
}

type Jobmodel struct {
	URL            string `json:"url"`
	Order          string `json:"order"`
	MaxPages       *int   `json:"maxPages"`
	IncludeReplies bool   `json:"includeReplies"`
}

// AddJob queues a collection job and answers before collection starts.
func (h *Handler) AddJob(c echo.Context) error {
	var model Jobmodel
	if err := c.Bind(&model); err != nil {
		return fail(c, http.StatusBadRequest, "잘못된 요청 형식입니다.")
	}
	if strings.TrimSpace(model.URL) == "" {
		return fail(c, http.StatusBadRequest, "유튜브 영상 URL을 입력해주세요.")
	}
	maxPages := h.defaultMaxPages
	if model.MaxPages != nil {
		maxPages = *model.MaxPages
	}

	job, err := h.jobs.Submit(c.Request().Context(), jobs.SubmitRequest{
		Reference:      model.URL,
		Order:          model.Order,
		MaxPages:       maxPages,
		IncludeReplies: model.IncludeReplies,
	})
	if err != nil {
		return h.jobError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"jobId":  job.ID,
		"status": string(job.Status),
	})
}

func fail(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}

// jobError maps orchestrator errors to responses.
func (h *Handler) jobError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, jobs.ErrInvalidReference),
		errors.Is(err, jobs.ErrInvalidOrder),
		errors.Is(err, jobs.ErrInvalidMaxPages):
		return fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrNotFound):
		return fail(c, http.StatusNotFound, "Job을 찾을 수 없습니다.")
	case errors.Is(err, jobs.ErrJobActive):
		return fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		return fail(c, http.StatusConflict, "이미 종료된 Job입니다.")
	case errors.Is(err, jobs.ErrConflict):
		return fail(c, http.StatusConflict, "다른 요청과 충돌했습니다. 다시 시도해 주세요.")
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return fail(c, http.StatusInternalServerError, "요청 처리 중 오류가 발생했습니다.")
	}
}
