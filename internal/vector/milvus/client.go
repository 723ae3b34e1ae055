package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/logger"
)

const (
	fieldChunkID   = "chunk_id"
	fieldEmbedding = "embedding"
	fieldText      = "text"
	fieldSourceID  = "source_id"
	fieldDocType   = "doc_type"
	fieldSpecialty = "specialty"
	fieldRecord    = "record"
	fieldTimestamp = "timestamp"
)

var outputFields = []string{fieldChunkID, fieldText, fieldRecord}

// Client is the nearest-neighbour index for document chunks. Scores are
// cosine similarities clamped to [0,1].
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// record is the part of a chunk stored as JSON next to its vector.
type record struct {
	StartPos   int                  `json:"start_pos"`
	EndPos     int                  `json:"end_pos"`
	ChunkIndex int                  `json:"chunk_index"`
	TokenCount int                  `json:"token_count"`
	Metadata   models.ChunkMetadata `json:"metadata"`
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	cfg := client.Config{Address: endpoint}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.EnableTLSAuth = strings.HasPrefix(endpoint, "https://")
	}

	c, err := client.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func varchar(name string, maxLength int) *entity.Field {
	return &entity.Field{
		Name:     name,
		DataType: entity.FieldTypeVarChar,
		TypeParams: map[string]string{
			"max_length": fmt.Sprintf("%d", maxLength),
		},
	}
}

// EnsureCollection creates, indexes and loads the collection if missing.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return m.client.LoadCollection(ctx, m.collectionName, false)
	}

	chunkID := varchar(fieldChunkID, 256)
	chunkID.PrimaryKey = true

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Medical knowledge chunk embeddings",
		Fields: []*entity.Field{
			chunkID,
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			varchar(fieldText, 8192),
			varchar(fieldSourceID, 128),
			varchar(fieldDocType, 32),
			varchar(fieldSpecialty, 128),
			varchar(fieldRecord, 8192),
			{
				Name:     fieldTimestamp,
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

// Insert replaces every stored chunk of the sources in the batch with the
// given chunks, so re-ingesting a source never leaves stale or duplicate rows.
func (m *Client) Insert(ctx context.Context, chunks []models.DocumentChunk, embeddings [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("got %d embeddings for %d chunks", len(embeddings), len(chunks))
	}

	if expr := sourceFilter(chunks); expr != "" {
		if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
			return fmt.Errorf("failed to delete previous chunks: %w", err)
		}
	}

	n := len(chunks)
	chunkIDs := make([]string, n)
	texts := make([]string, n)
	sourceIDs := make([]string, n)
	docTypes := make([]string, n)
	specialties := make([]string, n)
	records := make([]string, n)
	timestamps := make([]int64, n)
	now := time.Now().Unix()

	for i, chunk := range chunks {
		rec, err := encodeRecord(chunk)
		if err != nil {
			return err
		}
		chunkIDs[i] = chunk.ID
		texts[i] = chunk.Text
		sourceIDs[i] = chunk.Metadata.SourceID
		docTypes[i] = string(chunk.Metadata.Type)
		specialties[i] = chunk.Metadata.Specialty
		records[i] = rec
		timestamps[i] = now
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar(fieldChunkID, chunkIDs),
		entity.NewColumnFloatVector(fieldEmbedding, m.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSourceID, sourceIDs),
		entity.NewColumnVarChar(fieldDocType, docTypes),
		entity.NewColumnVarChar(fieldSpecialty, specialties),
		entity.NewColumnVarChar(fieldRecord, records),
		entity.NewColumnInt64(fieldTimestamp, timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector index", zap.Int("count", n))

	return nil
}

func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, filter models.SearchFilter) ([]models.RetrievedChunk, error) {
	expr := buildFilter(filter)

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]models.RetrievedChunk, 0, topK)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn(fieldChunkID)
		textCol := sr.Fields.GetColumn(fieldText)
		recordCol := sr.Fields.GetColumn(fieldRecord)
		if idCol == nil || textCol == nil || recordCol == nil {
			return nil, fmt.Errorf("search result missing output fields")
		}

		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.Get(i)
			text, _ := textCol.Get(i)
			rec, _ := recordCol.Get(i)

			chunk, err := decodeRecord(asString(id), asString(text), asString(rec))
			if err != nil {
				logger.Warn("Skipping undecodable chunk", zap.Any("chunk_id", id), zap.Error(err))
				continue
			}

			results = append(results, models.RetrievedChunk{
				DocumentChunk: chunk,
				Score:         normalizeScore(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filter", expr),
	)

	return results, nil
}

// Ping reports whether the index is reachable.
func (m *Client) Ping(ctx context.Context) error {
	_, err := m.client.HasCollection(ctx, m.collectionName)
	return err
}

func buildFilter(filter models.SearchFilter) string {
	var clauses []string
	if filter.DocumentType != "" {
		clauses = append(clauses, fmt.Sprintf(`%s == "%s"`, fieldDocType, escape(string(filter.DocumentType))))
	}
	if filter.Specialty != "" {
		clauses = append(clauses, fmt.Sprintf(`%s == "%s"`, fieldSpecialty, escape(filter.Specialty)))
	}
	return strings.Join(clauses, " && ")
}

// sourceFilter matches every row belonging to a source present in chunks.
func sourceFilter(chunks []models.DocumentChunk) string {
	seen := map[string]bool{}
	var quoted []string
	for _, chunk := range chunks {
		id := chunk.Metadata.SourceID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		quoted = append(quoted, `"`+escape(id)+`"`)
	}
	if len(quoted) == 0 {
		return ""
	}
	return fmt.Sprintf("%s in [%s]", fieldSourceID, strings.Join(quoted, ", "))
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func normalizeScore(s float32) float64 {
	v := float64(s)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func encodeRecord(chunk models.DocumentChunk) (string, error) {
	data, err := json.Marshal(record{
		StartPos:   chunk.StartPos,
		EndPos:     chunk.EndPos,
		ChunkIndex: chunk.ChunkIndex,
		TokenCount: chunk.TokenCount,
		Metadata:   chunk.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chunk record: %w", err)
	}
	return string(data), nil
}

func decodeRecord(id, text, raw string) (models.DocumentChunk, error) {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return models.DocumentChunk{}, fmt.Errorf("failed to unmarshal chunk record: %w", err)
	}
	return models.DocumentChunk{
		ID:         id,
		Text:       text,
		StartPos:   rec.StartPos,
		EndPos:     rec.EndPos,
		ChunkIndex: rec.ChunkIndex,
		TokenCount: rec.TokenCount,
		Metadata:   rec.Metadata,
	}, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
