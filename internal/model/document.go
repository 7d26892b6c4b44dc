package model

import "time"

// Document is an ingested source text. The body is immutable after ingest;
// re-ingesting creates a new document and a new index job.
type Document struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	Source     string    `gorm:"size:64;not null" json:"source"`
	SourceRef  string    `gorm:"size:256" json:"source_ref,omitempty"`
	URI        string    `gorm:"size:512" json:"uri,omitempty"`
	DocType    string    `gorm:"size:64" json:"doc_type,omitempty"`
	Title      string    `gorm:"size:256;not null" json:"title"`
	Body       string    `gorm:"type:longtext;not null" json:"-"`
	ContentSHA string    `gorm:"size:64;not null" json:"content_sha256"`
	Meta       string    `gorm:"type:text" json:"-"` // JSON object
	CreatedAt  time.Time `json:"created_at"`
}
