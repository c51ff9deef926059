package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kurosaki/mentions/internal/jobs"
	"github.com/kurosaki/mentions/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const commentBatchSize = 200

// JobStore keeps jobs and their comments in the jobs and comment_records tables.
type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(job).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return jobs.ErrExists
			}
			return err
		}
		return saveComments(tx, job)
	})
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.get(ctx, id, true)
}

// GetSummary reads the job row alone; Comments stays nil.
func (s *JobStore) GetSummary(ctx context.Context, id string) (*models.Job, error) {
	return s.get(ctx, id, false)
}

func (s *JobStore) get(ctx context.Context, id string, withComments bool) (*models.Job, error) {
	q := s.db.WithContext(ctx)
	if withComments {
		q = q.Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("position") })
	}
	var job models.Job
	err := q.First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Put overwrites the job row. Comments are rewritten only when the status or
// the comment count changed, so progress updates stay a single-row write.
func (s *JobStore) Put(ctx context.Context, job *models.Job) error {
	return s.put(ctx, job, true)
}

// PutSummary overwrites the job row and leaves its comments alone.
func (s *JobStore) PutSummary(ctx context.Context, job *models.Job) error {
	return s.put(ctx, job, false)
}

// put updates the row only while its version still matches the snapshot.
func (s *JobStore) put(ctx context.Context, job *models.Job, withComments bool) error {
	version := job.Version
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored struct {
			Status       models.JobStatus
			CommentCount int
			Version      int
		}
		res := tx.Model(&models.Job{}).Select("status", "comment_count", "version").Where("id = ?", job.ID).Take(&stored)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return jobs.ErrNotFound
		}
		if res.Error != nil {
			return res.Error
		}
		if stored.Status.Terminal() && stored.Status != job.Status {
			return fmt.Errorf("%w: job %s is already %s", models.ErrInvalidTransition, job.ID, stored.Status)
		}
		if stored.Version != version {
			return jobs.ErrConflict
		}

		job.Version = version + 1
		res = tx.Model(job).Where("version = ?", version).Select("*").Omit(clause.Associations).Updates(job)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return jobs.ErrConflict
		}
		if !withComments || (stored.Status == job.Status && stored.CommentCount == job.CommentCount) {
			return nil
		}
		return saveComments(tx, job)
	})
	if err != nil {
		job.Version = version
	}
	return err
}

// List returns jobs without their comments, newest first.
func (s *JobStore) List(ctx context.Context, limit int) ([]*models.Job, error) {
	q := s.db.WithContext(ctx).Order("created_at desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*models.Job
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *JobStore) Evict(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&models.Job{}).
			Where("status IN ? AND created_at < ?", []models.JobStatus{models.StatusDone, models.StatusError}, before).
			Pluck("id", &ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}
		if err := tx.Where("job_id IN ?", ids).Delete(&models.CommentRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Job{})
		n = int(res.RowsAffected)
		return res.Error
	})
	return n, err
}

// saveComments upserts the accumulated set in merge order. Merges never drop
// identifiers, so rows are only inserted or replaced.
func saveComments(tx *gorm.DB, job *models.Job) error {
	if len(job.Comments) == 0 {
		return nil
	}
	rows := make([]models.CommentRecord, len(job.Comments))
	for i, c := range job.Comments {
		c.JobID = job.ID
		c.Position = i
		rows[i] = c
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "comment_id"}},
		UpdateAll: true,
	}).CreateInBatches(rows, commentBatchSize).Error
	if err != nil {
		return fmt.Errorf("save comments of job %s: %w", job.ID, err)
	}
	return nil
}
