package model

import "time"

// Citation links an assistant message to a retrieved chunk with the fused
// score at answer time.
type Citation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;uniqueIndex:uk_citation_msg_chunk,priority:1" json:"message_id"`
	ChunkID   uint      `gorm:"not null;uniqueIndex:uk_citation_msg_chunk,priority:2" json:"chunk_id"`
	Score     float64   `gorm:"not null" json:"score"`
	CreatedAt time.Time `json:"created_at"`
}
