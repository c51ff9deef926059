package handlers

import (
	"errors"
	"net/http"

	"github.com/kurosaki/mentions/internal/yt"
	"github.com/labstack/echo/v4"
)

// Video returns the metadata of the video given by ?url= or ?id=.
func (h *Handler) Video(c echo.Context) error {
	ref := c.QueryParam("url")
	if ref == "" {
		ref = c.QueryParam("id")
	}
	if ref == "" {
		return fail(c, http.StatusBadRequest, "url 또는 id 파라미터가 필요합니다.")
	}
	if h.videos == nil {
		return fail(c, http.StatusServiceUnavailable, "영상 정보 조회를 사용할 수 없습니다.")
	}

	videoID, ok := yt.ParseVideoID(ref)
	if !ok {
		videoID = ref
	}
	video, err := h.videos.VideoDetails(c.Request().Context(), videoID)
	switch {
	case errors.Is(err, yt.ErrVideoNotFound):
		return fail(c, http.StatusNotFound, "영상을 찾을 수 없습니다.")
	case err != nil:
		h.logger.Warn().Err(err).Str("video_id", videoID).Msg("video lookup failed")
		return fail(c, http.StatusInternalServerError, "영상 정보 조회 실패: "+err.Error())
	}
	return c.JSON(http.StatusOK, video)
}
