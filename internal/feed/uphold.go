package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

const (
	// DefaultUpholdURL is the public ticker endpoint.
	DefaultUpholdURL = "https://api.uphold.com/v0/ticker"
	// upholdLevelSize is the size of the synthetic single-level book.
	upholdLevelSize = 100.0
	// upholdErrorLimit fails the session after this many consecutive errors.
	upholdErrorLimit = 5
)

// UpholdFeed polls the ticker endpoint and publishes a one-level book per
// symbol. USDT-quoted symbols are polled as their USD pair.
type UpholdFeed struct {
	name     string
	baseURL  string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewUpholdFeed creates an UpholdFeed polling every interval (default 1s).
func NewUpholdFeed(name, baseURL string, interval time.Duration, logger *slog.Logger) *UpholdFeed {
	if baseURL == "" {
		baseURL = DefaultUpholdURL
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &UpholdFeed{
		name:     name,
		baseURL:  strings.TrimRight(baseURL, "/"),
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With(slog.String("component", "uphold_feed"), slog.String("feed", name)),
	}
}

// Name implements Feed.
func (f *UpholdFeed) Name() string { return f.name }

// Kind implements Feed.
func (f *UpholdFeed) Kind() string { return KindUphold }

// upholdPair maps a symbol to the ticker pair.
func upholdPair(symbol string) string {
	s := domain.NormalizeSymbol(symbol)
	if base, ok := strings.CutSuffix(s, "USDT"); ok {
		return base + "USD"
	}
	return s
}

type upholdTicker struct {
	Ask      string `json:"ask"`
	Bid      string `json:"bid"`
	Currency string `json:"currency"`
}

// Run implements Feed. Transient HTTP errors are retried on the next tick;
// the session fails after several consecutive errors.
func (f *UpholdFeed) Run(ctx context.Context, symbols []string, sink Sink) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	failures := 0
	for {
		for _, sym := range symbols {
			u, err := f.poll(ctx, sym)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failures++
				f.logger.Debug("uphold poll failed", slog.String("symbol", sym), slog.String("error", err.Error()))
				if failures >= upholdErrorLimit {
					return fmt.Errorf("feed: uphold %s: %w", f.name, err)
				}
				continue
			}
			failures = 0
			if u != nil {
				sink(*u)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *UpholdFeed) poll(ctx context.Context, symbol string) (*domain.BookUpdate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+upholdPair(symbol), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var t upholdTicker
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode ticker: %w", err)
	}
	bid, errBid := strconv.ParseFloat(t.Bid, 64)
	ask, errAsk := strconv.ParseFloat(t.Ask, 64)
	if errBid != nil || errAsk != nil || bid <= 0 || ask <= 0 || bid >= ask {
		return nil, nil
	}
	return &domain.BookUpdate{
		Exchange:  f.name,
		Symbol:    domain.NormalizeSymbol(symbol),
		Kind:      domain.BookSnapshot,
		Bids:      []domain.PriceLevel{{Price: bid, Size: upholdLevelSize}},
		Asks:      []domain.PriceLevel{{Price: ask, Size: upholdLevelSize}},
		Timestamp: time.Now().UTC(),
	}, nil
}
