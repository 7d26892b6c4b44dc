package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kbring/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(job *model.Job) error {
	if err := r.db.Create(job).Error; err != nil {
		return fmt.Errorf("create job failed: %w", err)
	}
	return nil
}

// ClaimOne atomically takes the oldest queued job of the given kind, marks
// it running and stamps its lease. SKIP LOCKED keeps N workers from blocking
// on each other; at most one worker wins any given row. Returns (nil, nil)
// when the queue is empty.
func (r *JobRepository) ClaimOne(kind string, lease time.Duration) (*model.Job, error) {
	var job model.Job
	err := r.db.Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ? AND kind = ?", model.JobStatusQueued, kind).
			Order("created_at ASC, id ASC")
		// SQLite has no FOR UPDATE; the clause only applies on MySQL.
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.First(&job).Error; err != nil {
			return err
		}
		now := time.Now()
		expires := now.Add(lease)
		if err := tx.Model(&model.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":           model.JobStatusRunning,
			"started_at":       now,
			"lease_expires_at": expires,
		}).Error; err != nil {
			return err
		}
		// Keep the returned row truthful; the read above saw the queued state.
		job.Status = model.JobStatusRunning
		job.StartedAt = &now
		job.LeaseExpiresAt = &expires
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job failed: %w", err)
	}
	return &job, nil
}

// ExtendLease pushes the running job's lease forward. A job that lost its
// running status (reclaimed by the sweep) is not re-extended.
func (r *JobRepository) ExtendLease(jobID uint, lease time.Duration) error {
	expires := time.Now().Add(lease)
	err := r.db.Model(&model.Job{}).
		Where("id = ? AND status = ?", jobID, model.JobStatusRunning).
		Update("lease_expires_at", expires).Error
	if err != nil {
		return fmt.Errorf("extend job lease failed: %w", err)
	}
	return nil
}

func (r *JobRepository) Complete(jobID uint, resultJSON string) error {
	now := time.Now()
	err := r.db.Model(&model.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":           model.JobStatusDone,
		"result":           resultJSON,
		"error":            "",
		"finished_at":      now,
		"lease_expires_at": nil,
	}).Error
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

func (r *JobRepository) Fail(jobID uint, message string) error {
	now := time.Now()
	err := r.db.Model(&model.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":           model.JobStatusError,
		"error":            message,
		"finished_at":      now,
		"lease_expires_at": nil,
	}).Error
	if err != nil {
		return fmt.Errorf("fail job failed: %w", err)
	}
	return nil
}

// ReclaimExpired requeues running jobs whose lease lapsed, so work lost to a
// crashed worker is retried instead of staying stuck forever. Returns how
// many jobs were requeued.
func (r *JobRepository) ReclaimExpired() (int64, error) {
	res := r.db.Model(&model.Job{}).
		Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?",
			model.JobStatusRunning, time.Now()).
		Updates(map[string]interface{}{
			"status":           model.JobStatusQueued,
			"started_at":       nil,
			"lease_expires_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim expired jobs failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *JobRepository) GetByIDAndUserID(jobID, userID uint) (*model.Job, error) {
	var job model.Job
	if err := r.db.Where("id = ? AND user_id = ?", jobID, userID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) ListByUserID(userID uint, limit int) ([]model.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var jobs []model.Job
	if err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs failed: %w", err)
	}
	return jobs, nil
}
