package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/logger"
)

// Client is the MedicalSource catalog.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		type TEXT NOT NULL,
		organization TEXT,
		authors TEXT,
		date TEXT,
		url TEXT,
		evidence_level TEXT,
		authoritative INTEGER DEFAULT 0,
		specialty TEXT,
		tags TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sources_type ON sources(type);
	CREATE INDEX IF NOT EXISTS idx_sources_specialty ON sources(specialty);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// SaveSource inserts a source or replaces the bibliographic fields of an
// existing one, keeping its creation time.
func (c *Client) SaveSource(ctx context.Context, src models.MedicalSource) error {
	query := `
		INSERT INTO sources (id, title, type, organization, authors, date, url, evidence_level,
			authoritative, specialty, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			type = excluded.type,
			organization = excluded.organization,
			authors = excluded.authors,
			date = excluded.date,
			url = excluded.url,
			evidence_level = excluded.evidence_level,
			authoritative = excluded.authoritative,
			specialty = excluded.specialty,
			tags = excluded.tags,
			updated_at = excluded.updated_at
	`

	authorsJSON, err := json.Marshal(src.Authors)
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}
	tagsJSON, err := json.Marshal(src.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	authoritative := 0
	if src.Authoritative {
		authoritative = 1
	}
	now := time.Now().Unix()

	_, err = c.db.ExecContext(
		ctx,
		query,
		src.ID,
		src.Title,
		string(src.Type),
		src.Organization,
		string(authorsJSON),
		src.Date,
		src.URL,
		string(src.EvidenceLevel),
		authoritative,
		src.Specialty,
		string(tagsJSON),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}

	logger.Debug("Source saved", zap.String("source_id", src.ID))
	return nil
}

const selectSource = `SELECT id, title, type, organization, authors, date, url, evidence_level,
	authoritative, specialty, tags FROM sources`

// GetSource returns nil without error when no source has the id.
func (c *Client) GetSource(ctx context.Context, id string) (*models.MedicalSource, error) {
	row := c.db.QueryRowContext(ctx, selectSource+" WHERE id = ?", id)

	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &src, nil
}

// GetSources resolves the ids present in the catalog. Missing ids are absent
// from the returned map.
func (c *Client) GetSources(ctx context.Context, ids []string) (map[string]models.MedicalSource, error) {
	found := make(map[string]models.MedicalSource, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx, selectSource+" WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		found[src.ID] = src
	}

	return found, rows.Err()
}

func (c *Client) ListSources(ctx context.Context, sourceType models.SourceType, limit int) ([]models.MedicalSource, error) {
	query := selectSource
	var args []interface{}
	if sourceType != "" {
		query += " WHERE type = ?"
		args = append(args, string(sourceType))
	}
	query += " ORDER BY updated_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []models.MedicalSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sources = append(sources, src)
	}

	return sources, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row scanner) (models.MedicalSource, error) {
	var src models.MedicalSource
	var srcType, evidence string
	var organization, authorsJSON, date, url, specialty, tagsJSON sql.NullString
	var authoritative int

	err := row.Scan(
		&src.ID,
		&src.Title,
		&srcType,
		&organization,
		&authorsJSON,
		&date,
		&url,
		&evidence,
		&authoritative,
		&specialty,
		&tagsJSON,
	)
	if err != nil {
		return src, err
	}

	src.Type = models.SourceType(srcType)
	src.Organization = organization.String
	src.Date = date.String
	src.URL = url.String
	src.EvidenceLevel = models.EvidenceLevel(evidence)
	src.Authoritative = authoritative == 1
	src.Specialty = specialty.String

	if authorsJSON.Valid {
		json.Unmarshal([]byte(authorsJSON.String), &src.Authors)
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &src.Tags)
	}

	return src, nil
}
