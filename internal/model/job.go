package model

import (
	"encoding/json"
	"time"
)

const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusError   = "error"
)

const JobKindIndexDocument = "index_document"

// Job is one unit of asynchronous work. Exactly one worker may hold the
// running state at a time; LeaseExpiresAt bounds how long a running job may
// go without a heartbeat before the reclaim sweep requeues it.
type Job struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	Kind           string     `gorm:"size:64;not null" json:"kind"`
	Status         string     `gorm:"size:16;not null;index:idx_job_status_created,priority:1" json:"status"`
	Payload        string     `gorm:"type:text;not null" json:"payload"` // JSON
	Result         string     `gorm:"type:text" json:"result,omitempty"` // JSON
	Error          string     `gorm:"type:text" json:"error,omitempty"`
	LeaseExpiresAt *time.Time `gorm:"index" json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time  `gorm:"index:idx_job_status_created,priority:2" json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// IndexDocumentPayload is the payload for JobKindIndexDocument.
type IndexDocumentPayload struct {
	DocumentID uint `json:"document_id"`
}

// EncodeIndexDocumentPayload renders the job payload JSON for a document.
func EncodeIndexDocumentPayload(documentID uint) (string, error) {
	b, err := json.Marshal(IndexDocumentPayload{DocumentID: documentID})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IndexDocumentResult is the result recorded on successful indexing.
type IndexDocumentResult struct {
	Chunks int `json:"chunks"`
}
