package jobs

import (
	"context"
	"errors"

	"github.com/kurosaki/mentions/internal/yt"
)

var (
	ErrInvalidReference = errors.New("올바른 유튜브 URL이 아닙니다. (일반/공유/shorts URL 지원)")
	ErrInvalidOrder     = errors.New("order는 time 또는 relevance 이어야 합니다.")
	ErrInvalidMaxPages  = errors.New("maxPages는 0 이상이어야 합니다.")
	ErrJobActive        = errors.New("진행 중인 Job은 다시 수집할 수 없습니다.")
)

// Job error codes that do not come from the upstream taxonomy.
const (
	CodeCancelled = "CANCELLED"
	CodeTimeout   = "TIMEOUT"
	CodeDispatch  = "DISPATCH_FAILED"
	CodeFailed    = "COLLECTION_FAILED"
)

// TranslateError maps a collection failure to the code stored on the job and
// the message shown to the user.
func TranslateError(err error) (code, message string) {
	var apiErr *yt.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Kind.String()
		switch apiErr.Kind {
		case yt.KindCommentsDisabled:
			message = "이 영상은 댓글이 비활성화되어 있습니다."
		case yt.KindQuotaExceeded:
			message = "YouTube API 일일 할당량이 초과되었습니다. 내일 다시 시도해주세요."
		case yt.KindVideoNotFound:
			message = "영상을 찾을 수 없습니다. 비공개이거나 삭제된 영상일 수 있습니다."
		case yt.KindForbidden:
			message = "API 접근이 거부되었습니다: " + apiErr.Error()
		case yt.KindMaxRetries:
			message = "YouTube API 요청이 계속 실패했습니다. 잠시 후 다시 시도해주세요."
		default:
			message = "API 오류: " + apiErr.Error()
		}
	case errors.Is(err, context.Canceled):
		code, message = CodeCancelled, "수집이 중단되었습니다."
	case errors.Is(err, context.DeadlineExceeded):
		code, message = CodeTimeout, "수집 시간이 초과되었습니다."
	default:
		code, message = CodeFailed, "수집 중 오류 발생: "+err.Error()
	}
	return code, message
}
