package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	name string
	err  error
	sent []string
}

func (s *stubSender) Name() string { return s.name }

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.sent = append(s.sent, title)
	return s.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{EventTradeAborted, " "}, discard())

	require.NoError(t, n.Notify(context.Background(), EventTradeSettled, "settled", ""))
	require.NoError(t, n.Notify(context.Background(), EventTradeAborted, "aborted", ""))
	assert.Equal(t, []string{"aborted"}, s.sent)

	all := NewNotifier([]Sender{s}, nil, discard())
	assert.True(t, all.Enabled(EventRebalance))
	assert.False(t, NewNotifier(nil, nil, discard()).Enabled(EventRebalance))
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &stubSender{name: "bad", err: boom}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventRebalance, "t", "m")
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.sent, 1, "remaining senders still receive the alert")
}

func TestTelegramSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Trade settled", "pnl 4.18"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Trade settled*\npnl 4.18", got["text"])
}

func TestDiscordSendReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "x", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
