package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

type CreatePersonRequest struct {
	Name     string          `json:"name" binding:"required"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type PersonResponse struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	FaceCount int             `json:"face_count"`
	CreatedAt string          `json:"created_at"`
}

type FaceEmbeddingResponse struct {
	ID        uuid.UUID `json:"id"`
	PersonID  uuid.UUID `json:"person_id"`
	Quality   float32   `json:"quality"`
	SourceKey string    `json:"source_key"`
	CreatedAt string    `json:"created_at"`
}

type SearchResult struct {
	PersonID uuid.UUID `json:"person_id"`
	Name     string    `json:"name"`
	Distance float32   `json:"distance"`
}
