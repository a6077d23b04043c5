package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// DefaultBybitURLs are the spot public stream endpoints.
var DefaultBybitURLs = []string{"wss://stream.bybit.com/v5/public/spot"}

// bybitPingPeriod is how often the application-level ping is sent.
const bybitPingPeriod = 20 * time.Second

// BybitFeed reads the orderbook.50 stream: a snapshot on subscribe, then
// deltas where size 0 deletes a price.
type BybitFeed struct {
	name   string
	urls   []string
	logger *slog.Logger
}

// NewBybitFeed creates a BybitFeed. An empty urls uses DefaultBybitURLs.
func NewBybitFeed(name string, urls []string, logger *slog.Logger) *BybitFeed {
	if len(urls) == 0 {
		urls = DefaultBybitURLs
	}
	return &BybitFeed{
		name:   name,
		urls:   urls,
		logger: logger.With(slog.String("component", "bybit_feed"), slog.String("feed", name)),
	}
}

// Name implements Feed.
func (f *BybitFeed) Name() string { return f.name }

// Kind implements Feed.
func (f *BybitFeed) Kind() string { return KindBybit }

type bybitCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type bybitMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol string     `json:"s"`
		Bids   []rawLevel `json:"b"`
		Asks   []rawLevel `json:"a"`
	} `json:"data"`
	// Command acknowledgements.
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

// Run implements Feed.
func (f *BybitFeed) Run(ctx context.Context, symbols []string, sink Sink) error {
	if len(symbols) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		topics = append(topics, "orderbook.50."+domain.NormalizeSymbol(s))
	}

	var lastErr error
	for _, url := range f.urls {
		conn, err := dial(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		return f.session(ctx, conn, topics, sink)
	}
	if lastErr == nil {
		lastErr = errors.New("no endpoints configured")
	}
	return fmt.Errorf("feed: bybit %s: %w", f.name, lastErr)
}

func (f *BybitFeed) session(ctx context.Context, conn *websocket.Conn, topics []string, sink Sink) error {
	var writeMu sync.Mutex
	send := func(cmd bybitCommand) error {
		data, err := json.Marshal(cmd)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if err := send(bybitCommand{Op: "subscribe", Args: topics}); err != nil {
		conn.Close()
		return fmt.Errorf("feed: bybit %s: subscribe: %w", f.name, err)
	}
	f.logger.Info("bybit subscribed", slog.Any("topics", topics))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(bybitPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := send(bybitCommand{Op: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	err := readLoop(ctx, conn, func(msg []byte) error {
		return f.handle(msg, sink)
	})
	return fmt.Errorf("feed: bybit %s: %w", f.name, err)
}

func (f *BybitFeed) handle(msg []byte, sink Sink) error {
	var m bybitMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil
	}
	if m.Op == "subscribe" && m.Success != nil && !*m.Success {
		return fmt.Errorf("subscribe rejected: %s", m.RetMsg)
	}
	if !strings.HasPrefix(m.Topic, "orderbook.") {
		return nil
	}

	var kind domain.BookKind
	switch m.Type {
	case "snapshot":
		kind = domain.BookSnapshot
	case "delta":
		kind = domain.BookDelta
	default:
		return nil
	}
	keepZero := kind == domain.BookDelta
	bids, err := parseLevels(m.Data.Bids, keepZero)
	if err != nil {
		f.logger.Debug("bad bybit bids", slog.String("error", err.Error()))
		return nil
	}
	asks, err := parseLevels(m.Data.Asks, keepZero)
	if err != nil {
		f.logger.Debug("bad bybit asks", slog.String("error", err.Error()))
		return nil
	}

	u := domain.BookUpdate{
		Exchange: f.name,
		Symbol:   domain.NormalizeSymbol(m.Data.Symbol),
		Kind:     kind,
		Bids:     bids,
		Asks:     asks,
	}
	if m.TS > 0 {
		u.Timestamp = time.UnixMilli(m.TS).UTC()
	}
	sink(u)
	return nil
}
