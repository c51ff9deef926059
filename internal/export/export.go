package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kurosaki/mentions/internal/models"
)

const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"

	ContentTypeCSV   = "text/csv; charset=utf-8"
	ContentTypeJSONL = "application/x-ndjson"
)

// utf8BOM makes spreadsheet applications pick UTF-8 for Korean text.
const utf8BOM = "\uFEFF"

var header = []string{
	"video_id",
	"video_url",
	"comment_id",
	"thread_id",
	"parent_id",
	"is_reply",
	"author_display_name",
	"author_channel_id",
	"author_profile_url",
	"text_original",
	"text_plain",
	"like_count",
	"published_at",
	"updated_at",
	"fetched_at",
	"source",
}

// WriteCSV writes records with a BOM and a fixed header row.
func WriteCSV(w io.Writer, records []models.CommentRecord) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, c := range records {
		parent := ""
		if c.ParentID != nil {
			parent = *c.ParentID
		}
		row := []string{
			c.VideoID,
			c.VideoURL,
			c.CommentID,
			c.ThreadID,
			parent,
			strconv.FormatBool(c.IsReply),
			c.AuthorDisplayName,
			c.AuthorChannelID,
			c.AuthorProfileURL,
			c.TextOriginal,
			c.TextPlain,
			strconv.FormatInt(c.LikeCount, 10),
			formatTime(c.PublishedAt),
			formatTime(c.UpdatedAt),
			formatTime(c.FetchedAt),
			c.Source,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSONL writes one JSON object per line.
func WriteJSONL(w io.Writer, records []models.CommentRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encode %s: %w", records[i].CommentID, err)
		}
	}
	return nil
}

// Filename is the download name, e.g. dQw4w9WgXcQ_202610150900_comments.csv.
func Filename(videoID, format string, now time.Time) string {
	ext := FormatCSV
	if format == FormatJSONL {
		ext = FormatJSONL
	}
	return fmt.Sprintf("%s_%s_comments.%s", videoID, now.Format("200601021504"), ext)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
