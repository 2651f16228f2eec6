package intake

import (
	types "VodForge/pkg"
	"VodForge/internal/job"
	"VodForge/internal/pipeline"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Submitter is satisfied by *job.Manager.
type Submitter interface {
	Submit(ctx context.Context, req job.SubmitRequest) (uuid.UUID, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(cfg types.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
		Dialer: &kafka.Dialer{
			Timeout:  10 * time.Second,
			ClientID: "vodforge",
		},
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
}

// Consumer submits a transcode job for every upload-complete event. An
// offset is committed only once its message is submitted or known to be
// unusable.
type Consumer struct {
	reader    messageReader
	submitter Submitter
	retry     types.RetryConfig
	logger    *zap.Logger
}

func NewConsumer(reader messageReader, submitter Submitter, retry types.RetryConfig, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:    reader,
		submitter: submitter,
		retry:     retry,
		logger:    logger,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("Kafka intake started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if !c.handleUntilDone(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handleUntilDone keeps retrying a transiently failing message so offsets
// never skip past it. It returns false only when ctx ends first.
func (c *Consumer) handleUntilDone(ctx context.Context, msg kafka.Message) bool {
	pause := time.Duration(c.retry.InitialIntervalSec * float64(time.Second))
	for {
		err := c.handle(ctx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.Warn("Submit failed, will retry message",
			zap.Int64("offset", msg.Offset),
			zap.Duration("pause", pause),
			zap.Error(err))

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var req job.SubmitRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		c.logger.Warn("Skipping malformed message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	var id uuid.UUID
	err := pipeline.Retry(ctx, c.logger, c.retry, "submit "+req.VideoID, func() error {
		var err error
		id, err = c.submitter.Submit(ctx, req)
		return err
	})

	var invalid *job.InvalidJobError
	if errors.As(err, &invalid) {
		c.logger.Warn("Skipping invalid transcode request",
			zap.String("video_id", req.VideoID),
			zap.String("field", invalid.Field),
			zap.Int64("offset", msg.Offset))
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.Info("Submitted job from event",
		zap.String("job_id", id.String()),
		zap.String("video_id", req.VideoID),
		zap.Int64("offset", msg.Offset))
	return nil
}
