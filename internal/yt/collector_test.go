package yt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/kurosaki/mentions/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type pageCall struct {
	endpoint string
	parentID string
	token    string
}

// fakePager serves canned pages keyed by endpoint, parent id and page token.
type fakePager struct {
	pages map[pageCall]*Page
	errs  map[pageCall]error
	calls []pageCall
}

func newFakePager() *fakePager {
	return &fakePager{pages: map[pageCall]*Page{}, errs: map[pageCall]error{}}
}

func (f *fakePager) FetchPage(_ context.Context, endpoint string, params url.Values, token string) (*Page, error) {
	key := pageCall{endpoint: endpoint, parentID: params.Get("parentId"), token: token}
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if p, ok := f.pages[key]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unexpected call %+v", key)
}

func (f *fakePager) threads(token, next string, items ...map[string]any) {
	f.pages[pageCall{endpoint: threadsEndpoint, token: token}] = &Page{Items: containers(items), NextPageToken: next}
}

func (f *fakePager) replies(parentID, token, next string, items ...map[string]any) {
	f.pages[pageCall{endpoint: repliesEndpoint, parentID: parentID, token: token}] = &Page{Items: containers(items), NextPageToken: next}
}

func (f *fakePager) count(endpoint string) int {
	n := 0
	for _, c := range f.calls {
		if c.endpoint == endpoint {
			n++
		}
	}
	return n
}

func containers(items []map[string]any) []*gabs.Container {
	out := make([]*gabs.Container, 0, len(items))
	for _, it := range items {
		out = append(out, gabs.Wrap(roundTrip(it)))
	}
	return out
}

// roundTrip gives the fixtures the same shapes gabs sees when parsing JSON.
func roundTrip(v any) any {
	b, _ := json.Marshal(v)
	var out any
	_ = json.Unmarshal(b, &out)
	return out
}

func apiComment(id, updated string) map[string]any {
	return map[string]any{
		"id": id,
		"snippet": map[string]any{
			"textOriginal":      "text " + id,
			"textDisplay":       "text <b>" + id + "</b>",
			"authorDisplayName": "author " + id,
			"authorChannelId":   map[string]any{"value": "UC" + id},
			"authorChannelUrl":  "http://www.youtube.com/channel/UC" + id,
			"likeCount":         3,
			"publishedAt":       "2026-10-01T10:00:00Z",
			"updatedAt":         updated,
		},
	}
}

func thread(id string, total int, inline ...map[string]any) map[string]any {
	t := map[string]any{
		"id": id,
		"snippet": map[string]any{
			"topLevelComment": apiComment(id, "2026-10-01T10:00:00Z"),
			"totalReplyCount": total,
		},
	}
	if len(inline) > 0 {
		t["replies"] = map[string]any{"comments": inline}
	}
	return t
}

func replies(parent string, n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, apiComment(fmt.Sprintf("%s.r%d", parent, i), "2026-10-01T11:00:00Z"))
	}
	return out
}

func collect(t *testing.T, pager Pager, req Request) ([]models.CommentRecord, [][2]int, error) {
	t.Helper()
	var progress [][2]int
	c := NewCollector(pager, WithClock(func() time.Time { return fixedNow }))
	records, err := c.Collect(context.Background(), req, func(pages, comments int) {
		progress = append(progress, [2]int{pages, comments})
	})
	return records, progress, err
}

func ids(records []models.CommentRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.CommentID)
	}
	return out
}

func TestCollect_PaginationUnbounded(t *testing.T) {
	f := newFakePager()
	f.threads("", "p2", thread("a", 0))
	f.threads("p2", "p3", thread("b", 0))
	f.threads("p3", "", thread("c", 0))

	records, progress, err := collect(t, f, Request{VideoID: "vid", Order: models.OrderTime})
	require.NoError(t, err)

	assert.Equal(t, 3, f.count(threadsEndpoint))
	assert.Equal(t, []string{"a", "b", "c"}, ids(records))
	assert.Equal(t, [][2]int{{1, 1}, {2, 2}, {3, 3}}, progress)
}

func TestCollect_PaginationStopsAtMaxPages(t *testing.T) {
	f := newFakePager()
	f.threads("", "p2", thread("a", 0))
	f.threads("p2", "p3", thread("b", 0))
	f.threads("p3", "", thread("c", 0))

	records, progress, err := collect(t, f, Request{VideoID: "vid", Order: models.OrderTime, MaxPages: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, f.count(threadsEndpoint))
	assert.Equal(t, []string{"a", "b"}, ids(records))
	assert.Len(t, progress, 2)
}

func TestCollect_ReplyExpansionThreshold(t *testing.T) {
	t.Run("gap above threshold expands", func(t *testing.T) {
		f := newFakePager()
		f.threads("", "", thread("top", 10, replies("top", 4)...))
		f.replies("top", "", "", replies("top", 10)...)

		records, _, err := collect(t, f, Request{VideoID: "vid", IncludeReplies: true})
		require.NoError(t, err)

		assert.Equal(t, 1, f.count(repliesEndpoint))
		assert.Len(t, records, 11)
	})

	t.Run("gap within threshold does not expand", func(t *testing.T) {
		f := newFakePager()
		f.threads("", "", thread("top", 8, replies("top", 4)...))

		records, _, err := collect(t, f, Request{VideoID: "vid", IncludeReplies: true})
		require.NoError(t, err)

		assert.Zero(t, f.count(repliesEndpoint))
		assert.Len(t, records, 5)
	})

	t.Run("configurable threshold", func(t *testing.T) {
		f := newFakePager()
		f.threads("", "", thread("top", 8, replies("top", 4)...))
		f.replies("top", "", "", replies("top", 8)...)

		c := NewCollector(f, WithReplyGapThreshold(2))
		records, err := c.Collect(context.Background(), Request{VideoID: "vid", IncludeReplies: true}, nil)
		require.NoError(t, err)

		assert.Equal(t, 1, f.count(repliesEndpoint))
		assert.Len(t, records, 9)
	})
}

func TestCollect_RepliesSkippedWhenExcluded(t *testing.T) {
	f := newFakePager()
	f.threads("", "", thread("top", 50, replies("top", 5)...))

	records, _, err := collect(t, f, Request{VideoID: "vid"})
	require.NoError(t, err)

	assert.Zero(t, f.count(repliesEndpoint))
	assert.Equal(t, []string{"top"}, ids(records))
}

func TestCollect_NoDuplicatesAcrossInlineAndReplyListing(t *testing.T) {
	f := newFakePager()
	f.threads("", "p2", thread("a", 12, replies("a", 5)...), thread("b", 0))
	// the reply listing repeats every inline reply and spans two pages
	all := replies("a", 12)
	f.replies("a", "", "r2", all[:7]...)
	f.replies("a", "r2", "", all[7:]...)
	f.threads("p2", "", thread("b", 0), thread("c", 0))

	records, progress, err := collect(t, f, Request{VideoID: "vid", IncludeReplies: true})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, r := range records {
		assert.False(t, seen[r.CommentID], "duplicate %s", r.CommentID)
		seen[r.CommentID] = true
	}
	assert.Len(t, records, 1+12+1+1)
	assert.Equal(t, 2, f.count(repliesEndpoint))
	assert.Equal(t, [][2]int{{1, 14}, {2, 15}}, progress)
}

func TestCollect_MapsRecords(t *testing.T) {
	f := newFakePager()
	f.threads("", "", thread("top", 1, apiComment("top.r0", "2026-10-02T08:30:00Z")))

	records, _, err := collect(t, f, Request{VideoID: "vid", VideoURL: "https://youtu.be/vid", IncludeReplies: true})
	require.NoError(t, err)
	require.Len(t, records, 2)

	top, reply := records[0], records[1]
	assert.Nil(t, top.ParentID)
	assert.False(t, top.IsReply)
	assert.Equal(t, "top", top.ThreadID)

	require.NotNil(t, reply.ParentID)
	assert.Equal(t, "top", *reply.ParentID)
	assert.True(t, reply.IsReply)
	assert.Equal(t, "top", reply.ThreadID)
	assert.Equal(t, "vid", reply.VideoID)
	assert.Equal(t, "https://youtu.be/vid", reply.VideoURL)
	assert.Equal(t, "author top.r0", reply.AuthorDisplayName)
	assert.Equal(t, "UCtop.r0", reply.AuthorChannelID)
	assert.Equal(t, "text top.r0", reply.TextOriginal)
	assert.Equal(t, "text top.r0", reply.TextPlain)
	assert.EqualValues(t, 3, reply.LikeCount)
	assert.Equal(t, time.Date(2026, 10, 2, 8, 30, 0, 0, time.UTC), reply.UpdatedAt)
	assert.Equal(t, fixedNow, reply.FetchedAt)
	assert.Equal(t, models.CommentSource, reply.Source)
}

func TestCollect_KeepsTextAfterLiteralAngleBracket(t *testing.T) {
	th := thread("lt", 0)
	snippet := th["snippet"].(map[string]any)["topLevelComment"].(map[string]any)["snippet"].(map[string]any)
	snippet["textOriginal"] = "a<b and c"
	snippet["textDisplay"] = "a&lt;b and c<br>next"
	f := newFakePager()
	f.threads("", "", th)

	records, _, err := collect(t, f, Request{VideoID: "vid"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a<b and c", records[0].TextOriginal)
	assert.Equal(t, "a<b and c\nnext", records[0].TextPlain)
}

func TestCollect_FailureAbortsWithoutPartialResult(t *testing.T) {
	f := newFakePager()
	f.threads("", "p2", thread("a", 0))
	f.errs[pageCall{endpoint: threadsEndpoint, token: "p2"}] = &APIError{Kind: KindQuotaExceeded, Status: 403}

	records, progress, err := collect(t, f, Request{VideoID: "vid"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindQuotaExceeded, apiErr.Kind)
	assert.Nil(t, records)
	assert.Len(t, progress, 1)
}

func TestCollect_StopsWhenCancelled(t *testing.T) {
	f := newFakePager()
	f.threads("", "p2", thread("a", 0))
	f.threads("p2", "", thread("b", 0))

	ctx, cancel := context.WithCancel(context.Background())
	c := NewCollector(f)
	_, err := c.Collect(ctx, Request{VideoID: "vid"}, func(pages, _ int) {
		if pages == 1 {
			cancel()
		}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.count(threadsEndpoint))
}

func TestCollect_AgainstHTTPUpstream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/commentThreads", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "relevance", r.URL.Query().Get("order"))
		assert.Equal(t, "100", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "vid", r.URL.Query().Get("videoId"))
		assert.Equal(t, "html", r.URL.Query().Get("textFormat"))
		body := map[string]any{"items": []any{thread("a", 7, replies("a", 1)...)}}
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a", r.URL.Query().Get("parentId"))
		assert.Equal(t, "html", r.URL.Query().Get("textFormat"))
		json.NewEncoder(w).Encode(map[string]any{"items": replies("a", 7)})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient("k", WithBaseURL(srv.URL), WithRetry(0, time.Millisecond))
	records, _, err := collect(t, client, Request{VideoID: "vid", Order: models.OrderRelevance, IncludeReplies: true})
	require.NoError(t, err)
	assert.Len(t, records, 8)
}
