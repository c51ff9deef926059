package models

import (
	"time"
)

// CommentSource tags every record collected through the Data API.
const CommentSource = "youtube_api"

// CommentRecord is one collected comment. Records are never edited after
// collection; a newer upstream edit arrives as a new record and wins on merge.
type CommentRecord struct {
	JobID             string    `gorm:"primaryKey;size:64" json:"-"`
	CommentID         string    `gorm:"primaryKey;size:128" json:"comment_id"`
	Position          int       `gorm:"index" json:"-"`
	VideoID           string    `gorm:"index;size:32" json:"video_id"`
	VideoURL          string    `json:"video_url"`
	ThreadID          string    `gorm:"size:128" json:"thread_id"`
	ParentID          *string   `gorm:"size:128" json:"parent_id"`
	IsReply           bool      `json:"is_reply"`
	AuthorDisplayName string    `json:"author_display_name"`
	AuthorChannelID   string    `json:"author_channel_id"`
	AuthorProfileURL  string    `json:"author_profile_url"`
	TextOriginal      string    `json:"text_original"`
	TextPlain         string    `json:"text_plain"`
	LikeCount         int64     `json:"like_count"`
	PublishedAt       time.Time `json:"published_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
	FetchedAt         time.Time `json:"fetched_at"`
	Source            string    `gorm:"size:32" json:"source"`
}

// MergeComments layers incoming on top of existing. Existing order is kept and
// new identifiers are appended in incoming order. An incoming record replaces
// an existing one only when its UpdatedAt is strictly later.
func MergeComments(existing, incoming []CommentRecord) []CommentRecord {
	merged := make([]CommentRecord, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))

	for _, c := range existing {
		if i, ok := index[c.CommentID]; ok {
			if c.UpdatedAt.After(merged[i].UpdatedAt) {
				merged[i] = c
			}
			continue
		}
		index[c.CommentID] = len(merged)
		merged = append(merged, c)
	}

	for _, c := range incoming {
		i, ok := index[c.CommentID]
		if !ok {
			index[c.CommentID] = len(merged)
			merged = append(merged, c)
			continue
		}
		if c.UpdatedAt.After(merged[i].UpdatedAt) {
			merged[i] = c
		}
	}
	return merged
}
