package models

import "time"

// Video is the metadata the dashboard shows next to a collection job.
type Video struct {
	VideoID      string    `json:"videoId"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ChannelName  string    `json:"channel"`
	ChannelID    string    `json:"channelId"`
	ViewCount    uint64    `json:"viewCount"`
	LikeCount    uint64    `json:"likeCount"`
	CommentCount uint64    `json:"commentCount"`
	Tags         []string  `json:"tags"`
	PublishedAt  time.Time `json:"publishedAt"`
	Thumbnail    string    `json:"thumbnail"`
}
