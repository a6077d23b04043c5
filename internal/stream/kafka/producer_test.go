package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEmitWritesJSONWithPrefixedTopic(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "arbsim.", discard())

	opp := domain.Opportunity{ID: "opp-1", Symbol: "BTCUSDT", Status: domain.StatusAccepted}
	require.NoError(t, p.Emit(context.Background(), "opportunities", opp.ID, opp))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "arbsim.opportunities", w.msgs[0].Topic)
	assert.Equal(t, "opp-1", string(w.msgs[0].Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "accepted", decoded["status"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestEmitWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := newProducer(&fakeWriter{err: boom}, "", discard())
	err := p.Emit(context.Background(), "trades", "k", map[string]int{"a": 1})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "trades", p.Topic("trades"))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(Config{}, discard())
	assert.Error(t, err)
}
