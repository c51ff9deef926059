package jobs

import (
	"strings"

	"github.com/kurosaki/mentions/internal/models"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Query filters and pages the accumulated comments of a job.
type Query struct {
	Search      string
	Author      string
	RepliesOnly bool
	Cursor      int
	Limit       int
}

type ResultPage struct {
	Data   []models.CommentRecord `json:"data"`
	Total  int                    `json:"total"`
	Cursor *int                   `json:"cursor"`
}

// QueryComments applies q to records. Search matches the plain and original
// text, Author matches the display name, both case-insensitively. Limit is
// capped at MaxPageSize.
func QueryComments(records []models.CommentRecord, q Query) ResultPage {
	search := strings.ToLower(q.Search)
	author := strings.ToLower(q.Author)

	filtered := make([]models.CommentRecord, 0, len(records))
	for _, c := range records {
		if search != "" &&
			!strings.Contains(strings.ToLower(c.TextPlain), search) &&
			!strings.Contains(strings.ToLower(c.TextOriginal), search) {
			continue
		}
		if author != "" && !strings.Contains(strings.ToLower(c.AuthorDisplayName), author) {
			continue
		}
		if q.RepliesOnly && !c.IsReply {
			continue
		}
		filtered = append(filtered, c)
	}

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	start := q.Cursor
	if start < 0 {
		start = 0
	}
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + min(limit, len(filtered)-start)

	page := ResultPage{Data: filtered[start:end], Total: len(filtered)}
	if end < len(filtered) {
		page.Cursor = &end
	}
	return page
}
