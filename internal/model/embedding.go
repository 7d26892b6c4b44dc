package model

import "time"

// Embedding stores one chunk vector for one model. ChunkSHA records the
// chunk content hash at computation time; a mismatch with the chunk's current
// hash marks the row stale and it must be recomputed before retrieval use.
// Vector holds the textual boundary form "[v1,...,vn]" with 8 decimal digits
// per component.
type Embedding struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChunkID   uint      `gorm:"not null;uniqueIndex:uk_embedding_chunk_model,priority:1" json:"chunk_id"`
	Model     string    `gorm:"size:128;not null;uniqueIndex:uk_embedding_chunk_model,priority:2" json:"model"`
	Dims      int       `gorm:"not null" json:"dims"`
	ChunkSHA  string    `gorm:"size:64;not null" json:"chunk_sha256"`
	Vector    string    `gorm:"type:mediumtext;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
