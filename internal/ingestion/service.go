package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/metrics"
	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/apperr"
	"github.com/medical-control-plane/backend/pkg/logger"
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the external nearest-neighbour store that owns chunks after
// ingestion. Insert replaces any chunks already stored for the same sources.
type Index interface {
	Insert(ctx context.Context, chunks []models.DocumentChunk, embeddings [][]float32) error
}

type SourceCatalog interface {
	SaveSource(ctx context.Context, source models.MedicalSource) error
}

type Request struct {
	Content     string               `json:"content"`
	ContentType string               `json:"content_type"`
	Source      models.MedicalSource `json:"source"`
	Options     *Options             `json:"chunking_options,omitempty"`
}

type Service struct {
	chunker  *Chunker
	embedder Embedder
	index    Index
	catalog  SourceCatalog
}

func NewService(chunker *Chunker, embedder Embedder, index Index, catalog SourceCatalog) *Service {
	return &Service{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		catalog:  catalog,
	}
}

// Ingest chunks a document, embeds the chunks and hands them to the index.
func (s *Service) Ingest(ctx context.Context, req Request) ([]models.DocumentChunk, error) {
	start := time.Now()
	logger.Info("Ingesting document",
		zap.String("source_id", req.Source.ID),
		zap.String("content_type", req.ContentType),
	)

	if err := validateSource(req.Source); err != nil {
		return nil, err
	}

	content := req.Content
	if isHTML(req.ContentType) {
		content = cleanHTML(content)
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "ingestion.Ingest", "no content extracted from document")
	}

	chunks, err := s.chunker.Chunk(content, req.Source, req.Options)
	if err != nil {
		return nil, err
	}
	logger.Info("Document chunked", zap.Int("chunks", len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, apperr.New(apperr.KindUpstreamFailure, "ingestion.Ingest",
			"embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	if s.catalog != nil {
		if err := s.catalog.SaveSource(ctx, req.Source); err != nil {
			return nil, fmt.Errorf("failed to save source: %w", err)
		}
	}

	if err := s.index.Insert(ctx, chunks, embeddings); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "ingestion.Ingest", err)
	}

	metrics.DocumentsIngested.Inc()
	metrics.ChunksProduced.Add(float64(len(chunks)))

	logger.Info("Document ingested",
		zap.String("source_id", req.Source.ID),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return chunks, nil
}

func validateSource(src models.MedicalSource) error {
	if src.ID == "" || src.Title == "" {
		return apperr.New(apperr.KindInvalidArgument, "ingestion.Ingest", "source id and title are required")
	}
	if !src.Type.Valid() {
		return apperr.New(apperr.KindInvalidArgument, "ingestion.Ingest", "unknown source type %q", src.Type)
	}
	return nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "html" || strings.Contains(ct, "text/html")
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	text = whitespaceRun.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
