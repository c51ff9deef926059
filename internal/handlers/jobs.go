package handlers

import (
	"net/http"
	"strconv"

	"github.com/kurosaki/mentions/internal/export"
	"github.com/kurosaki/mentions/internal/jobs"
	"github.com/labstack/echo/v4"
)

func (h *Handler) ListJobs(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	list, err := h.jobs.List(c.Request().Context(), limit)
	if err != nil {
		return h.jobError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.jobError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

type renameRequest struct {
	VideoTitle *string `json:"videoTitle"`
}

func (h *Handler) RenameJob(c echo.Context) error {
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "잘못된 요청 형식입니다.")
	}
	title := ""
	if req.VideoTitle != nil {
		title = *req.VideoTitle
	}
	job, err := h.jobs.Rename(c.Request().Context(), c.Param("id"), title)
	if err != nil {
		return h.jobError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "videoTitle": job.VideoTitle})
}

func (h *Handler) CancelJob(c echo.Context) error {
	if err := h.jobs.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return h.jobError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"success": true})
}

func (h *Handler) RecollectJob(c echo.Context) error {
	job, err := h.jobs.Recollect(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.jobError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"jobId":  job.ID,
		"status": string(job.Status),
	})
}

// Results pages through the comments of a job with optional filters.
func (h *Handler) Results(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.jobError(c, err)
	}
	cursor, _ := strconv.Atoi(c.QueryParam("cursor"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	page := jobs.QueryComments(job.Comments, jobs.Query{
		Search:      c.QueryParam("search"),
		Author:      c.QueryParam("author"),
		RepliesOnly: c.QueryParam("repliesOnly") == "true",
		Cursor:      cursor,
		Limit:       limit,
	})
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) Download(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.jobError(c, err)
	}
	if len(job.Comments) == 0 {
		return fail(c, http.StatusBadRequest, "다운로드할 댓글이 없습니다.")
	}

	format := export.FormatCSV
	contentType := export.ContentTypeCSV
	if c.QueryParam("format") == export.FormatJSONL {
		format = export.FormatJSONL
		contentType = export.ContentTypeJSONL
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, contentType)
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+export.Filename(job.VideoID, format, h.now())+`"`)
	res.WriteHeader(http.StatusOK)

	if format == export.FormatJSONL {
		err = export.WriteJSONL(res, job.Comments)
	} else {
		err = export.WriteCSV(res, job.Comments)
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", job.ID).Msg("download interrupted")
	}
	return nil
}
