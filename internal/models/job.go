package models

import (
	"errors"
	"fmt"
	"time"
)

type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusError   JobStatus = "error"
)

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Comment orderings accepted by the thread listing.
const (
	OrderTime      = "time"
	OrderRelevance = "relevance"
)

const (
	msgQueued   = "대기 중..."
	msgStarting = "수집 시작..."
	msgComplete = "수집 완료"
)

var (
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrProgressRegression = errors.New("job progress cannot go backwards")
)

type Progress struct {
	Pages       int    `json:"pages"`
	Comments    int    `json:"comments"`
	CurrentPage string `json:"currentPage"`
}

// Job is one collection run against one video.
//
// Comments is always replaced with a new slice and never written in place, so
// snapshots returned by a store may share its backing array.
type Job struct {
	ID             string          `gorm:"primaryKey;size:64" json:"id"`
	VideoID        string          `gorm:"index;size:32" json:"videoId"`
	VideoURL       string          `json:"videoUrl"`
	VideoTitle     string          `json:"videoTitle"`
	Order          string          `gorm:"size:16" json:"order"`
	MaxPages       int             `json:"maxPages"`
	IncludeReplies bool            `json:"includeReplies"`
	Status         JobStatus       `gorm:"index;size:16" json:"status"`
	Progress       Progress        `gorm:"embedded;embeddedPrefix:progress_" json:"progress"`
	ErrorCode      string          `gorm:"size:64" json:"errorCode,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `gorm:"index" json:"createdAt"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty"`
	CommentCount   int             `json:"commentCount"`
	Comments       []CommentRecord `gorm:"foreignKey:JobID" json:"-"`
	// Version counts the writes of the record; stores bump it on every Put.
	Version int `gorm:"not null;default:0" json:"-"`
}

// NewJob returns a queued job with zeroed progress.
func NewJob(id, videoID, videoURL, order string, maxPages int, includeReplies bool, now time.Time) *Job {
	return &Job{
		ID:             id,
		VideoID:        videoID,
		VideoURL:       videoURL,
		VideoTitle:     PlaceholderTitle(videoID),
		Order:          order,
		MaxPages:       maxPages,
		IncludeReplies: includeReplies,
		Status:         StatusQueued,
		Progress:       Progress{CurrentPage: msgQueued},
		CreatedAt:      now,
	}
}

// PlaceholderTitle is shown until the video metadata lookup fills in the real title.
func PlaceholderTitle(videoID string) string {
	return "영상 " + videoID
}

// Seed replaces the accumulated set of a queued job, used when a new run is
// layered on top of a previous one.
func (j *Job) Seed(records []CommentRecord) error {
	if j.Status != StatusQueued {
		return j.transitionErr(StatusQueued)
	}
	j.Comments = MergeComments(nil, records)
	j.CommentCount = len(j.Comments)
	return nil
}

func (j *Job) Start() error {
	if j.Status != StatusQueued {
		return j.transitionErr(StatusRunning)
	}
	j.Status = StatusRunning
	j.Progress.CurrentPage = msgStarting
	return nil
}

// SetProgress overwrites the progress snapshot of a running job.
func (j *Job) SetProgress(pages, comments int, message string) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("%w: progress on %s job %s", ErrInvalidTransition, j.Status, j.ID)
	}
	if pages < j.Progress.Pages || comments < j.Progress.Comments {
		return fmt.Errorf("%w: job %s at %d/%d, got %d/%d",
			ErrProgressRegression, j.ID, j.Progress.Pages, j.Progress.Comments, pages, comments)
	}
	j.Progress = Progress{Pages: pages, Comments: comments, CurrentPage: message}
	return nil
}

// Complete merges records into the accumulated set and marks the job done.
func (j *Job) Complete(records []CommentRecord, now time.Time) error {
	if j.Status != StatusRunning {
		return j.transitionErr(StatusDone)
	}
	j.Comments = MergeComments(j.Comments, records)
	j.CommentCount = len(j.Comments)
	j.Status = StatusDone
	j.Progress.Comments = j.CommentCount
	j.Progress.CurrentPage = msgComplete
	j.FinishedAt = &now
	return nil
}

// Fail moves a non-terminal job to error. The first terminal transition wins.
func (j *Job) Fail(code, message string, now time.Time) error {
	if j.Status.Terminal() {
		return j.transitionErr(StatusError)
	}
	j.Status = StatusError
	j.ErrorCode = code
	j.Error = message
	j.Progress.CurrentPage = message
	j.FinishedAt = &now
	return nil
}

// Rename sets the display title; a blank title keeps the current one.
func (j *Job) Rename(title string) {
	if title == "" {
		return
	}
	j.VideoTitle = title
}

// Clone returns a snapshot safe to hand to readers.
func (j *Job) Clone() *Job {
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	c.Comments = j.Comments[:len(j.Comments):len(j.Comments)]
	return &c
}

func (j *Job) transitionErr(to JobStatus) error {
	return fmt.Errorf("%w: %q -> %q (job_id=%s video_id=%s)", ErrInvalidTransition, j.Status, to, j.ID, j.VideoID)
}
