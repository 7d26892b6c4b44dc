package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbring/internal/model"
)

func queueJob(t *testing.T, repo *JobRepository, createdAt time.Time) *model.Job {
	t.Helper()
	job := &model.Job{
		UserID:    1,
		Kind:      model.JobKindIndexDocument,
		Status:    model.JobStatusQueued,
		Payload:   `{"document_id":1}`,
		CreatedAt: createdAt,
	}
	require.NoError(t, repo.Create(job))
	return job
}

func TestClaimOneStampsLeaseOnReturnedJob(t *testing.T) {
	db := newTestDB(t, &model.Job{})
	repo := NewJobRepository(db)
	queued := queueJob(t, repo, time.Now())

	claimed, err := repo.ClaimOne(model.JobKindIndexDocument, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, queued.ID, claimed.ID)

	assert.Equal(t, model.JobStatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)
	require.NotNil(t, claimed.LeaseExpiresAt)
	assert.True(t, claimed.LeaseExpiresAt.After(time.Now()))

	stored, err := repo.GetByIDAndUserID(claimed.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.JobStatusRunning, stored.Status)
	require.NotNil(t, stored.LeaseExpiresAt)
}

func TestClaimOneEmptyQueue(t *testing.T) {
	db := newTestDB(t, &model.Job{})
	repo := NewJobRepository(db)

	claimed, err := repo.ClaimOne(model.JobKindIndexDocument, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimOneTakesOldestFirst(t *testing.T) {
	db := newTestDB(t, &model.Job{})
	repo := NewJobRepository(db)
	older := queueJob(t, repo, time.Now().Add(-time.Hour))
	queueJob(t, repo, time.Now())

	claimed, err := repo.ClaimOne(model.JobKindIndexDocument, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
}

func TestCompleteClearsLease(t *testing.T) {
	db := newTestDB(t, &model.Job{})
	repo := NewJobRepository(db)
	queueJob(t, repo, time.Now())

	claimed, err := repo.ClaimOne(model.JobKindIndexDocument, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, repo.Complete(claimed.ID, `{"chunks":3}`))

	stored, err := repo.GetByIDAndUserID(claimed.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.JobStatusDone, stored.Status)
	assert.Equal(t, `{"chunks":3}`, stored.Result)
	assert.Nil(t, stored.LeaseExpiresAt)
	assert.NotNil(t, stored.FinishedAt)
}

func TestReclaimExpiredRequeuesLapsedJobs(t *testing.T) {
	db := newTestDB(t, &model.Job{})
	repo := NewJobRepository(db)
	queueJob(t, repo, time.Now())

	claimed, err := repo.ClaimOne(model.JobKindIndexDocument, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Nothing to reclaim while the lease is live.
	reclaimed, err := repo.ReclaimExpired()
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	expired := time.Now().Add(-time.Second)
	require.NoError(t, db.Model(&model.Job{}).Where("id = ?", claimed.ID).
		Update("lease_expires_at", expired).Error)

	reclaimed, err = repo.ReclaimExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), reclaimed)

	stored, err := repo.GetByIDAndUserID(claimed.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.JobStatusQueued, stored.Status)
	assert.Nil(t, stored.LeaseExpiresAt)
	assert.Nil(t, stored.StartedAt)
}

func TestExtendLeaseOnlyWhileRunning(t *testing.T) {
	db := newTestDB(t, &model.Job{})
	repo := NewJobRepository(db)
	queueJob(t, repo, time.Now())

	claimed, err := repo.ClaimOne(model.JobKindIndexDocument, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, repo.ExtendLease(claimed.ID, 5*time.Minute))
	stored, err := repo.GetByIDAndUserID(claimed.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, stored.LeaseExpiresAt)
	assert.True(t, stored.LeaseExpiresAt.After(time.Now().Add(4*time.Minute)))

	require.NoError(t, repo.Fail(claimed.ID, "boom"))
	require.NoError(t, repo.ExtendLease(claimed.ID, 5*time.Minute))

	stored, err = repo.GetByIDAndUserID(claimed.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusError, stored.Status)
	assert.Nil(t, stored.LeaseExpiresAt, "a terminal job does not get a fresh lease")
}
