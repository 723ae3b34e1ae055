package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/metrics"
	"github.com/medical-control-plane/backend/pkg/apperr"
	"github.com/medical-control-plane/backend/pkg/circuitbreaker"
	"github.com/medical-control-plane/backend/pkg/logger"
	"github.com/medical-control-plane/backend/pkg/retry"
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimension  int
	BatchSize  int
	BatchDelay time.Duration
	Retry      retry.Config
}

// Provider turns text into vectors through an OpenAI-compatible embeddings API.
type Provider struct {
	client      *openai.Client
	model       string
	dimension   int
	batchSize   int
	batchDelay  time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewProvider(cfg Config) *Provider {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		}
	}

	p := &Provider{
		model:       cfg.Model,
		dimension:   cfg.Dimension,
		batchSize:   cfg.BatchSize,
		batchDelay:  cfg.BatchDelay,
		retryConfig: cfg.Retry,
		cb: circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Logger:           logger.GetLogger(),
		}),
	}

	if cfg.APIKey == "" {
		logger.Warn("Embedding provider has no API key; embedding calls will fail")
		return p
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	p.client = openai.NewClientWithConfig(clientConfig)

	logger.Info("Embedding provider initialized",
		zap.String("model", cfg.Model),
		zap.Int("batch_size", cfg.BatchSize),
	)

	return p
}

func (p *Provider) Configured() bool {
	return p.client != nil
}

func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch embeds texts in groups of at most batchSize, one group at a
// time with batchDelay between groups. Output order matches input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.client == nil {
		return nil, apperr.New(apperr.KindNotConfigured, "embedding.EmbedBatch", "embedding API key is not configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += p.batchSize {
		if start > 0 && p.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.batchDelay):
			}
		}

		end := min(start+p.batchSize, len(texts))
		batch, err := p.embedGroup(ctx, texts[start:end])
		if err != nil {
			metrics.EmbeddingBatches.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.EmbeddingBatches.WithLabelValues("ok").Inc()
		embeddings = append(embeddings, batch...)
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

func (p *Provider) embedGroup(ctx context.Context, batch []string) ([][]float32, error) {
	var out [][]float32

	err := p.cb.Execute(ctx, func() error {
		return retry.Do(ctx, p.retryConfig, func() error {
			resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: batch,
				Model: openai.EmbeddingModel(p.model),
			})
			if err != nil {
				return permanentIfRejected(fmt.Errorf("failed to generate batch embeddings: %w", err))
			}
			if len(resp.Data) != len(batch) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(batch))
			}

			ordered := make([][]float32, len(batch))
			for i, data := range resp.Data {
				idx := data.Index
				if idx < 0 || idx >= len(batch) || ordered[idx] != nil {
					idx = i
				}
				ordered[idx] = data.Embedding
			}
			out = ordered
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "embedding.EmbedBatch", err)
	}

	return out, nil
}

// permanentIfRejected stops retries for 4xx responses other than 429.
func permanentIfRejected(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 &&
		apiErr.HTTPStatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= 400 && reqErr.HTTPStatusCode < 500 &&
		reqErr.HTTPStatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}
