package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKafkaPublisherSendsJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got Event
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Name != "title_viewed" || got.UserID != 7 {
			return errors.New("unexpected event payload")
		}
		if got.Properties["tmdbId"] != float64(348) {
			return errors.New("properties not forwarded")
		}
		return nil
	})

	p := newKafkaPublisher(producer, "analytics", discardLogger())
	err := p.Publish(context.Background(), Event{
		ID:         "evt-1",
		Name:       "title_viewed",
		UserID:     7,
		Properties: map[string]any{"tmdbId": 348},
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestKafkaPublisherReturnsSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newKafkaPublisher(producer, "analytics", discardLogger())
	err := p.Publish(context.Background(), Event{Name: "search"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestKafkaPublisherHonoursCanceledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	p := newKafkaPublisher(producer, "analytics", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, Event{Name: "search"}), context.Canceled)
	require.NoError(t, p.Close())
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, p.Publish(context.Background(), Event{ID: "evt-2", Name: "search"}))
	assert.Contains(t, buf.String(), "analytics event search")
	assert.Error(t, p.Publish(context.Background(), Event{}))
}
