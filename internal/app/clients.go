package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/yungbote/labreport-backend/internal/ingestion/extractor"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/platform/gcp"
	"github.com/yungbote/labreport-backend/internal/platform/openai"
)

// buildCapability returns the document-understanding backend named by
// EXTRACTION_PROVIDER.
func buildCapability(log *logger.Logger, cfg Config) (extractor.Capability, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ExtractionProvider)) {
	case "langchain":
		token := strings.TrimSpace(cfg.OpenAIAPIKey)
		opts := []lcopenai.Option{lcopenai.WithModel(cfg.OpenAIModel)}
		if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
			opts = append(opts, lcopenai.WithBaseURL(base))
			if token == "" {
				// Local OpenAI-compatible servers accept any token.
				token = "none"
			}
		}
		opts = append(opts, lcopenai.WithToken(token))
		model, err := lcopenai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("init langchain model: %w", err)
		}
		log.Info("Extraction capability selected", "provider", "langchain", "model", cfg.OpenAIModel)
		return extractor.NewLangchainCapability(model), nil
	default:
		client, err := openai.NewClient(log, openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Model:          cfg.OpenAIModel,
			TimeoutSeconds: cfg.OpenAITimeoutSeconds,
			MaxRetries:     cfg.OpenAIMaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai client: %w", err)
		}
		log.Info("Extraction capability selected", "provider", "openai", "model", cfg.OpenAIModel)
		return extractor.NewOpenAICapability(client), nil
	}
}

// buildOCR returns nil when Document AI is not configured.
func buildOCR(log *logger.Logger, cfg Config) (gcp.OCR, error) {
	docCfg := gcp.DocumentConfig{
		ProjectID:        cfg.DocumentAIProjectID,
		Location:         cfg.DocumentAILocation,
		ProcessorID:      cfg.DocumentAIProcessorID,
		ProcessorVersion: cfg.DocumentAIProcessorVersion,
		Credentials:      cfg.GoogleCredentials,
	}
	if !docCfg.Enabled() {
		return nil, nil
	}
	return gcp.NewDocument(log, docCfg)
}

// buildRedis returns nil when REDIS_ADDR is unset.
func buildRedis(ctx context.Context, log *logger.Logger, cfg Config) (*goredis.Client, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info("Connected to Redis", "addr", addr)
	return rdb, nil
}

type redisPinger struct{ rdb goredis.UniversalClient }

func (p redisPinger) PingContext(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
