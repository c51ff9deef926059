package yt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kurosaki/mentions/internal/models"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"
)

var ErrVideoNotFound = errors.New("video not found")

// MetadataClient looks up video details through the Data API client library.
type MetadataClient struct {
	service *ytapi.Service
	logger  zerolog.Logger
}

// NewMetadataClient builds the service. endpoint may be empty for the public API.
func NewMetadataClient(ctx context.Context, apiKey, endpoint string, logger zerolog.Logger) (*MetadataClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("YouTube API key is required")
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	service, err := ytapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	return &MetadataClient{service: service, logger: logger}, nil
}

func (m *MetadataClient) VideoDetails(ctx context.Context, videoID string) (*models.Video, error) {
	resp, err := m.service.Videos.List([]string{"snippet", "statistics"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("videos.list %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return nil, ErrVideoNotFound
	}

	item := resp.Items[0]
	v := &models.Video{
		VideoID:     videoID,
		Title:       item.Snippet.Title,
		Description: item.Snippet.Description,
		ChannelName: item.Snippet.ChannelTitle,
		ChannelID:   item.Snippet.ChannelId,
		Tags:        item.Snippet.Tags,
		Thumbnail:   bestThumbnail(item.Snippet.Thumbnails),
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
		v.PublishedAt = t
	}
	if s := item.Statistics; s != nil {
		v.ViewCount = s.ViewCount
		v.LikeCount = s.LikeCount
		v.CommentCount = s.CommentCount
	}
	return v, nil
}

// VideoTitle returns the title or "" when the lookup fails for any reason.
func (m *MetadataClient) VideoTitle(ctx context.Context, videoID string) string {
	v, err := m.VideoDetails(ctx, videoID)
	if err != nil {
		m.logger.Warn().Err(err).Str("video_id", videoID).Msg("video title lookup failed")
		return ""
	}
	return v.Title
}

func bestThumbnail(t *ytapi.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*ytapi.Thumbnail{t.Maxres, t.High, t.Medium} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}
