package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"combopos/backend/internal/domain"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	writer := &recordingWriter{}
	p := &KafkaPublisher{writer: writer, topic: "pos-order-lines"}
	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := p.PublishOrderExpanded(context.Background(), domain.OrderExpandedEvent{
		OrderID:  "ord-1",
		StoreID:  "main-store",
		Expanded: 1,
		Lines: []domain.OrderLine{{
			ProductID:   "prd-chapati",
			Qty:         decimal.NewFromInt(2),
			UnitPrice:   decimal.NewFromInt(1000),
			Total:       decimal.NewFromInt(2000),
			IsComponent: true,
		}},
		CreatedAt: createdAt,
	})

	require.NoError(t, err)
	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "main-store", string(msg.Key))
	assert.Equal(t, createdAt, msg.Time)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "order.expanded", string(msg.Headers[0].Value))

	var decoded domain.OrderExpandedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "ord-1", decoded.OrderID)
	require.Len(t, decoded.Lines, 1)
	assert.True(t, decoded.Lines[0].Total.Equal(decimal.NewFromInt(2000)))

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &recordingWriter{err: errors.New("broker down")}, topic: "pos-order-lines"}

	err := p.PublishOrderExpanded(context.Background(), domain.OrderExpandedEvent{OrderID: "ord-9"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ord-9")
	assert.Contains(t, err.Error(), "broker down")
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, ParseBrokers(" kafka-1:9092, ,kafka-2:9092 "))
	assert.Empty(t, ParseBrokers(""))
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.PublishOrderExpanded(context.Background(), domain.OrderExpandedEvent{}))
	assert.NoError(t, p.Close())
}
