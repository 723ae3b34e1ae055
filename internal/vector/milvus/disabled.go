package milvus

import (
	"context"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/apperr"
)

// Disabled stands in for the index when no Milvus endpoint is configured.
type Disabled struct{}

func (Disabled) Insert(ctx context.Context, chunks []models.DocumentChunk, embeddings [][]float32) error {
	return apperr.New(apperr.KindNotConfigured, "milvus.Insert", "vector index is not configured")
}

func (Disabled) Search(ctx context.Context, queryEmbedding []float32, topK int, filter models.SearchFilter) ([]models.RetrievedChunk, error) {
	return nil, apperr.New(apperr.KindNotConfigured, "milvus.Search", "vector index is not configured")
}

func (Disabled) Ping(ctx context.Context) error {
	return apperr.New(apperr.KindNotConfigured, "milvus.Ping", "vector index is not configured")
}
