package yt

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/kurosaki/mentions/internal/models"
	"github.com/rs/zerolog"
)

const (
	threadsEndpoint = "commentThreads"
	repliesEndpoint = "comments"
	pageSize        = 100

	// DefaultReplyGapThreshold is how many replies may be missing from the
	// inline sample before the reply listing is paged separately.
	DefaultReplyGapThreshold = 5
)

// Request describes one collection run.
type Request struct {
	VideoID        string
	VideoURL       string
	Order          string
	MaxPages       int // 0 = until the listing ends
	IncludeReplies bool
}

// ProgressFunc receives the number of thread pages processed and the number
// of distinct comments collected so far.
type ProgressFunc func(pages, comments int)

// Pager is the part of Client the collector needs.
type Pager interface {
	FetchPage(ctx context.Context, endpoint string, params url.Values, pageToken string) (*Page, error)
}

// Collector walks the thread and reply listings of a video.
type Collector struct {
	pager             Pager
	replyGapThreshold int
	now               func() time.Time
	logger            zerolog.Logger
}

type CollectorOption func(*Collector)

func WithReplyGapThreshold(n int) CollectorOption {
	return func(c *Collector) { c.replyGapThreshold = n }
}

func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

func WithCollectorLogger(l zerolog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = l }
}

func NewCollector(pager Pager, opts ...CollectorOption) *Collector {
	c := &Collector{
		pager:             pager,
		replyGapThreshold: DefaultReplyGapThreshold,
		now:               time.Now,
		logger:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// accumulator keeps one record per comment id in first-seen order.
type accumulator struct {
	index   map[string]int
	records []models.CommentRecord
}

func (a *accumulator) put(r models.CommentRecord) {
	if i, ok := a.index[r.CommentID]; ok {
		a.records[i] = r
		return
	}
	a.index[r.CommentID] = len(a.records)
	a.records = append(a.records, r)
}

// Collect pages through every thread of req.VideoID. Any failure aborts the
// run and nothing collected so far is returned.
func (c *Collector) Collect(ctx context.Context, req Request, onProgress ProgressFunc) ([]models.CommentRecord, error) {
	acc := &accumulator{index: make(map[string]int)}
	log := c.logger.With().Str("video_id", req.VideoID).Logger()

	params := url.Values{}
	params.Set("part", "snippet,replies")
	params.Set("videoId", req.VideoID)
	params.Set("maxResults", strconv.Itoa(pageSize))
	params.Set("order", req.Order)
	params.Set("textFormat", "html")

	var pageToken string
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := c.pager.FetchPage(ctx, threadsEndpoint, params, pageToken)
		if err != nil {
			return nil, err
		}

		for _, thread := range page.Items {
			if err := c.collectThread(ctx, req, thread, acc); err != nil {
				return nil, err
			}
		}

		pages++
		log.Debug().Int("page", pages).Int("comments", len(acc.records)).Msg("thread page processed")
		if onProgress != nil {
			onProgress(pages, len(acc.records))
		}

		if page.NextPageToken == "" {
			break
		}
		if req.MaxPages > 0 && pages >= req.MaxPages {
			break
		}
		pageToken = page.NextPageToken
	}
	return acc.records, nil
}

func (c *Collector) collectThread(ctx context.Context, req Request, thread *gabs.Container, acc *accumulator) error {
	threadID := str(thread, "id")
	top := thread.Path("snippet.topLevelComment")
	topID := str(top, "id")
	acc.put(c.record(top, req, threadID, nil))

	if !req.IncludeReplies {
		return nil
	}

	inline := thread.Path("replies.comments").Children()
	for _, reply := range inline {
		acc.put(c.record(reply, req, threadID, &topID))
	}

	total := num(thread, "snippet.totalReplyCount")
	if total-int64(len(inline)) <= int64(c.replyGapThreshold) {
		return nil
	}
	return c.collectReplies(ctx, req, threadID, topID, acc)
}

func (c *Collector) collectReplies(ctx context.Context, req Request, threadID, parentID string, acc *accumulator) error {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("parentId", parentID)
	params.Set("maxResults", strconv.Itoa(pageSize))
	params.Set("textFormat", "html")

	var pageToken string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := c.pager.FetchPage(ctx, repliesEndpoint, params, pageToken)
		if err != nil {
			return err
		}
		for _, reply := range page.Items {
			acc.put(c.record(reply, req, threadID, &parentID))
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Collector) record(comment *gabs.Container, req Request, threadID string, parentID *string) models.CommentRecord {
	r := models.CommentRecord{
		VideoID:           req.VideoID,
		VideoURL:          req.VideoURL,
		CommentID:         str(comment, "id"),
		ThreadID:          threadID,
		IsReply:           parentID != nil,
		AuthorDisplayName: str(comment, "snippet.authorDisplayName"),
		AuthorChannelID:   str(comment, "snippet.authorChannelId.value"),
		AuthorProfileURL:  str(comment, "snippet.authorChannelUrl"),
		TextOriginal:      str(comment, "snippet.textOriginal"),
		TextPlain:         plainText(str(comment, "snippet.textDisplay")),
		LikeCount:         num(comment, "snippet.likeCount"),
		PublishedAt:       timestamp(comment, "snippet.publishedAt"),
		UpdatedAt:         timestamp(comment, "snippet.updatedAt"),
		FetchedAt:         c.now().UTC(),
		Source:            models.CommentSource,
	}
	if parentID != nil {
		p := *parentID
		r.ParentID = &p
	}
	return r
}

func str(c *gabs.Container, path string) string {
	s, _ := c.Path(path).Data().(string)
	return s
}

// num reads a JSON number, or a decimal string as the statistics fields use.
func num(c *gabs.Container, path string) int64 {
	switch v := c.Path(path).Data().(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func timestamp(c *gabs.Container, path string) time.Time {
	t, err := time.Parse(time.RFC3339, str(c, path))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
