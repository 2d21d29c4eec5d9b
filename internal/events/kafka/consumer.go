package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/events"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	modelevents "github.com/sheikh-saqib/settlement-ledger-sync/internal/models/events"
)

// ReconciliationObserver applies a downstream reconciliation decision.
type ReconciliationObserver interface {
	ObserveReconciliation(ctx context.Context, lineID string, reconciled bool) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReconciliationConsumer reads LineReconciled events published by accounting.
type ReconciliationConsumer struct {
	reader   messageReader
	observer ReconciliationObserver
	logger   *zap.Logger
}

func NewReconciliationConsumer(brokers []string, groupID string, observer ReconciliationObserver, logger *zap.Logger) *ReconciliationConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   events.TopicLineReconciled,
		}),
		observer: observer,
		logger:   logger,
	}
}

// Run consumes until ctx is done. A message is committed once handled;
// malformed messages and unknown lines are logged and committed too.
func (c *ReconciliationConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := c.handleMessage(ctx, msg); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *ReconciliationConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var ev modelevents.LineReconciled
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.LineID == "" {
		c.logger.Warn("skipping malformed reconciliation event",
			zap.Int64("offset", msg.Offset), zap.ByteString("value", msg.Value))
		return nil
	}

	err := c.observer.ObserveReconciliation(ctx, ev.LineID, ev.Reconciled)
	if errors.Is(err, models.ErrNotFound) {
		c.logger.Warn("reconciliation event for unknown line", zap.String("line_id", ev.LineID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("observe reconciliation of %s: %w", ev.LineID, err)
	}
	c.logger.Debug("line reconciliation observed",
		zap.String("line_id", ev.LineID), zap.Bool("reconciled", ev.Reconciled))
	return nil
}

func (c *ReconciliationConsumer) Close() error {
	return c.reader.Close()
}
