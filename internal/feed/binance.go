package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

const (
	// handshakeTimeout bounds each websocket dial.
	handshakeTimeout = 15 * time.Second
	// staleTimeout drops a connection that has been silent this long.
	staleTimeout = 10 * time.Second
	// writeWait is the time allowed to write a control frame.
	writeWait = 10 * time.Second
)

// DefaultBinanceURLs are the combined-stream endpoints tried in order.
var DefaultBinanceURLs = []string{
	"wss://stream.binance.com:443/stream",
	"wss://stream.binance.com:9443/stream",
	"wss://data-stream.binance.vision/stream",
}

// BinanceFeed reads the partial depth stream (top 20 levels every 100ms).
// Every message is a full snapshot.
type BinanceFeed struct {
	name   string
	urls   []string
	logger *slog.Logger
}

// NewBinanceFeed creates a BinanceFeed. An empty urls uses
// DefaultBinanceURLs.
func NewBinanceFeed(name string, urls []string, logger *slog.Logger) *BinanceFeed {
	if len(urls) == 0 {
		urls = DefaultBinanceURLs
	}
	return &BinanceFeed{
		name:   name,
		urls:   urls,
		logger: logger.With(slog.String("component", "binance_feed"), slog.String("feed", name)),
	}
}

// Name implements Feed.
func (f *BinanceFeed) Name() string { return f.name }

// Kind implements Feed.
func (f *BinanceFeed) Kind() string { return KindBinance }

type binanceEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		EventTime    int64      `json:"E"`
		Bids         []rawLevel `json:"bids"`
		Asks         []rawLevel `json:"asks"`
	} `json:"data"`
}

func binanceStreams(symbols []string) (string, map[string]string) {
	streams := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for _, s := range symbols {
		lower := strings.ToLower(domain.NormalizeSymbol(s))
		streams = append(streams, lower+"@depth20@100ms")
		bySymbol[lower] = domain.NormalizeSymbol(s)
	}
	return strings.Join(streams, "/"), bySymbol
}

// Run implements Feed. Each endpoint is tried once; the error of the last
// attempt is returned when none connects.
func (f *BinanceFeed) Run(ctx context.Context, symbols []string, sink Sink) error {
	if len(symbols) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	streams, bySymbol := binanceStreams(symbols)

	var lastErr error
	for _, base := range f.urls {
		url := base + "?streams=" + streams
		conn, err := dial(ctx, url)
		if err != nil {
			lastErr = err
			f.logger.Debug("binance endpoint unavailable", slog.String("url", base), slog.String("error", err.Error()))
			continue
		}
		f.logger.Info("binance connected", slog.String("url", base))
		return readLoop(ctx, conn, func(msg []byte) error {
			return f.handle(msg, bySymbol, sink)
		})
	}
	if lastErr == nil {
		lastErr = errors.New("no endpoints configured")
	}
	return fmt.Errorf("feed: binance %s: %w", f.name, lastErr)
}

func (f *BinanceFeed) handle(msg []byte, bySymbol map[string]string, sink Sink) error {
	var env binanceEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil
	}
	stream, _, _ := strings.Cut(env.Stream, "@")
	symbol, ok := bySymbol[stream]
	if !ok {
		return nil
	}
	bids, err := parseLevels(env.Data.Bids, false)
	if err != nil {
		f.logger.Debug("bad binance bids", slog.String("error", err.Error()))
		return nil
	}
	asks, err := parseLevels(env.Data.Asks, false)
	if err != nil {
		f.logger.Debug("bad binance asks", slog.String("error", err.Error()))
		return nil
	}
	if len(bids) == 0 || len(asks) == 0 {
		return nil
	}
	u := domain.BookUpdate{
		Exchange: f.name,
		Symbol:   symbol,
		Kind:     domain.BookSnapshot,
		Bids:     bids,
		Asks:     asks,
	}
	if env.Data.EventTime > 0 {
		u.Timestamp = time.UnixMilli(env.Data.EventTime).UTC()
	}
	sink(u)
	return nil
}

func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// readLoop reads messages until ctx is cancelled, the peer goes silent for
// staleTimeout, or handle returns an error.
func readLoop(ctx context.Context, conn *websocket.Conn, handle func([]byte) error) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	})
	defer func() {
		if stop() {
			conn.Close()
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(staleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w: %v", domain.ErrWSDisconnect, err)
		}
		if err := handle(msg); err != nil {
			return err
		}
	}
}
