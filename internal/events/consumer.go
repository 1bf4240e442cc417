// Package events consumes upload notifications from a Redis stream and starts
// an ingestion run for each one.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	apperr "github.com/yungbote/labreport-backend/internal/pkg/errors"
	"github.com/yungbote/labreport-backend/internal/pkg/httpx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/services"
)

const payloadField = "data"

// Starter is the part of the ingest service the consumer drives.
type Starter interface {
	Start(ctx context.Context, req services.StartRequest) (*labs.LabReport, bool, error)
}

type Config struct {
	Stream    string        `mapstructure:"INGEST_STREAM"`
	Group     string        `mapstructure:"INGEST_STREAM_GROUP"`
	Consumer  string        `mapstructure:"INGEST_STREAM_CONSUMER"`
	BatchSize int64         `mapstructure:"INGEST_STREAM_BATCH_SIZE"`
	Block     time.Duration `mapstructure:"INGEST_STREAM_BLOCK"`
	// MinIdle is how long a delivered but unacknowledged message waits before
	// another consumer may claim it.
	MinIdle time.Duration `mapstructure:"INGEST_STREAM_MIN_IDLE"`
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Stream) == "" {
		c.Stream = "labreport:uploads"
	}
	if strings.TrimSpace(c.Group) == "" {
		c.Group = "labreport-ingest"
	}
	if strings.TrimSpace(c.Consumer) == "" {
		c.Consumer = "consumer-1"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.MinIdle <= 0 {
		c.MinIdle = time.Minute
	}
	return c
}

// UploadEvent is published by the upload service once a file is in the bucket.
type UploadEvent struct {
	ReportID         string `json:"reportId"`
	FilePath         string `json:"filePathInBucket"`
	OriginalFileName string `json:"originalFileName"`
	ContentType      string `json:"contentType"`
	OwnerID          string `json:"ownerId"`
}

type Consumer struct {
	log     *logger.Logger
	rdb     goredis.UniversalClient
	starter Starter
	cfg     Config
}

func NewConsumer(log *logger.Logger, rdb goredis.UniversalClient, starter Starter, cfg Config) *Consumer {
	return &Consumer{
		log:     log.With("component", "UploadConsumer"),
		rdb:     rdb,
		starter: starter,
		cfg:     cfg.WithDefaults(),
	}
}

// EnsureGroup creates the consumer group, and the stream if needed.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", c.cfg.Group, err)
	}
	return nil
}

// Run consumes until ctx is canceled. Read failures back off exponentially.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.log.Info("Upload consumer started", "stream", c.cfg.Stream, "group", c.cfg.Group, "consumer", c.cfg.Consumer)

	failures := 0
	for ctx.Err() == nil {
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			wait := httpx.Backoff(time.Second, 30*time.Second, failures)
			c.log.Warn("Upload consumer read failed", "error", err, "backoff", wait)
			if err := httpx.SleepContext(ctx, wait); err != nil {
				break
			}
			continue
		}
		failures = 0
	}
	return nil
}

// Poll reclaims stale pending messages, then reads one batch of new ones, and
// handles everything it got. It returns how many messages were acknowledged.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	acked := 0
	claimed, _, err := c.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.MinIdle,
		Start:    "0-0",
		Count:    c.cfg.BatchSize,
	}).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		c.log.Warn("Reclaiming pending uploads failed", "error", err)
	}
	acked += c.handleAll(ctx, claimed)

	streams, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return acked, nil
	}
	if err != nil {
		return acked, fmt.Errorf("read stream %s: %w", c.cfg.Stream, err)
	}
	for _, s := range streams {
		acked += c.handleAll(ctx, s.Messages)
	}
	return acked, nil
}

func (c *Consumer) handleAll(ctx context.Context, msgs []goredis.XMessage) int {
	n := 0
	for _, msg := range msgs {
		if !c.handle(ctx, msg) {
			continue
		}
		if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
			c.log.Warn("Failed to ack upload event", "message_id", msg.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

// handle reports whether msg is done with and may be acknowledged. Messages
// that can never succeed are acknowledged after logging so they do not loop.
func (c *Consumer) handle(ctx context.Context, msg goredis.XMessage) bool {
	req, err := Decode(msg)
	if err != nil {
		c.log.Error("Dropping malformed upload event", "message_id", msg.ID, "error", err)
		return true
	}
	report, _, err := c.starter.Start(ctx, req)
	switch {
	case err == nil:
		return true
	case errors.Is(err, apperr.ErrInvalidArgument), errors.Is(err, apperr.ErrConflict):
		c.log.Error("Rejected upload event", "message_id", msg.ID, "report_id", req.ReportID, "error", err)
		return true
	case report != nil:
		// The run exists; resume will dispatch it.
		c.log.Warn("Upload recorded but not dispatched", "message_id", msg.ID, "report_id", req.ReportID, "error", err)
		return true
	default:
		c.log.Warn("Upload event left pending", "message_id", msg.ID, "error", err)
		return false
	}
}

// Decode reads the JSON payload of a stream message into a start request.
func Decode(msg goredis.XMessage) (services.StartRequest, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return services.StartRequest{}, fmt.Errorf("message %s has no %q field", msg.ID, payloadField)
	}
	var ev UploadEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return services.StartRequest{}, fmt.Errorf("decode upload event: %w", err)
	}
	return ev.StartRequest()
}

func (ev UploadEvent) StartRequest() (services.StartRequest, error) {
	reportID, err := uuid.Parse(strings.TrimSpace(ev.ReportID))
	if err != nil {
		return services.StartRequest{}, fmt.Errorf("reportId: %w", err)
	}
	ownerID, err := uuid.Parse(strings.TrimSpace(ev.OwnerID))
	if err != nil {
		return services.StartRequest{}, fmt.Errorf("ownerId: %w", err)
	}
	return services.StartRequest{
		ReportID:         reportID,
		OwnerID:          ownerID,
		FilePath:         ev.FilePath,
		OriginalFileName: ev.OriginalFileName,
		ContentType:      ev.ContentType,
		Source:           labs.SourceAI,
	}, nil
}

// Publish appends ev to the stream. Used by tooling and tests.
func Publish(ctx context.Context, rdb goredis.UniversalClient, stream string, ev UploadEvent) (string, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{payloadField: string(raw)},
	}).Result()
}
