package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/pkg/apperr"
	"github.com/medical-control-plane/backend/pkg/logger"
)

const maxBodyBytes = 5 << 20

// Document is a fetched page, ready for ingestion.
type Document struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// Client downloads documents for ingestion by URL.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent: "medcp-ingest/1.0",
	}
}

// Fetch downloads rawURL. HTML bodies are returned untouched together with
// the page title; ingestion strips the markup.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "fetch.Fetch", "invalid document url %q", rawURL)
	}

	logger.Info("Fetching document", zap.String("url", rawURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "fetch.Fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindUpstreamFailure, "fetch.Fetch", "fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "fetch.Fetch", err)
	}

	contentType := "text/plain"
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		contentType = mt
	}

	doc := &Document{
		URL:         rawURL,
		Content:     string(body),
		ContentType: contentType,
	}
	if contentType == "text/html" {
		doc.Title = pageTitle(doc.Content)
	}

	logger.Debug("Document fetched",
		zap.String("url", rawURL),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(body)),
	)

	return doc, nil
}

func pageTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}
