package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/events"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	modelevents "github.com/sheikh-saqib/settlement-ledger-sync/internal/models/events"
)

var _ interfaces.EventPublisher = (*Publisher)(nil)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublisher_TopicKeyAndPayload(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}

	err := p.Publish(context.Background(), events.TopicQueueEnqueued, "acc_1",
		modelevents.QueueEnqueued{AccountID: "acc_1", Entries: 2})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, events.TopicQueueEnqueued, msg.Topic)
	assert.Equal(t, "acc_1", string(msg.Key))

	var decoded modelevents.QueueEnqueued
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, 2, decoded.Entries)
}

func TestPublisher_EncodeAndWriteErrors(t *testing.T) {
	p := &Publisher{writer: &fakeWriter{}}
	assert.Error(t, p.Publish(context.Background(), "t", "k", make(chan int)))

	p = &Publisher{writer: &fakeWriter{err: errors.New("broker down")}}
	assert.Error(t, p.Publish(context.Background(), "t", "k", struct{}{}))
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeObserver struct {
	seen map[string]bool
	err  error
}

func (o *fakeObserver) ObserveReconciliation(_ context.Context, lineID string, reconciled bool) error {
	if o.err != nil {
		return o.err
	}
	if lineID == "missing" {
		return fmt.Errorf("mark line: %w", models.ErrNotFound)
	}
	o.seen[lineID] = reconciled
	return nil
}

func event(t *testing.T, offset int64, lineID string, reconciled bool) kafka.Message {
	t.Helper()
	data, err := json.Marshal(modelevents.LineReconciled{LineID: lineID, Reconciled: reconciled})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: data}
}

func TestReconciliationConsumer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		event(t, 1, "line_1", true),
		{Offset: 2, Value: []byte("not json")},
		event(t, 3, "missing", true),
		event(t, 4, "line_1", false),
	}}
	observer := &fakeObserver{seen: map[string]bool{}}
	c := &ReconciliationConsumer{reader: reader, observer: observer, logger: nopLogger()}

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
	assert.Equal(t, map[string]bool{"line_1": false}, observer.seen)
}

func TestReconciliationConsumer_StoreFailureStopsWithoutCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{event(t, 7, "line_1", true)}}
	c := &ReconciliationConsumer{
		reader:   reader,
		observer: &fakeObserver{err: errors.New("db down")},
		logger:   nopLogger(),
	}

	assert.Error(t, c.Run(ctx))
	assert.Empty(t, reader.committed)
}

func nopLogger() *zap.Logger { return zap.NewNop() }
