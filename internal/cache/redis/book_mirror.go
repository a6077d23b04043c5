package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

const defaultBookTTL = 30 * time.Second

// BookMirror implements domain.BookMirror. Each book is a JSON value with a
// TTL; a per-exchange set indexes the symbols mirrored for it.
//
// Key schema:
//
//	arbsim:book:{exchange}:{symbol}  JSON OrderBook
//	arbsim:books:{exchange}          set of symbols
type BookMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.BookMirror = (*BookMirror)(nil)

// NewBookMirror creates a BookMirror on c using the client's book TTL.
func NewBookMirror(c *Client) *BookMirror {
	ttl := c.bookTTL
	if ttl <= 0 {
		ttl = defaultBookTTL
	}
	return &BookMirror{rdb: c.rdb, ttl: ttl}
}

func bookKey(exchange, symbol string) string { return "arbsim:book:" + exchange + ":" + symbol }
func bookIndexKey(exchange string) string    { return "arbsim:books:" + exchange }

// SetBook stores book and indexes it under its exchange.
func (m *BookMirror) SetBook(ctx context.Context, book domain.OrderBook) error {
	raw, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s/%s: %w", book.Exchange, book.Symbol, err)
	}
	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, bookKey(book.Exchange, book.Symbol), raw, m.ttl)
	pipe.SAdd(ctx, bookIndexKey(book.Exchange), book.Symbol)
	pipe.Expire(ctx, bookIndexKey(book.Exchange), m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s/%s: %w", book.Exchange, book.Symbol, err)
	}
	return nil
}

// GetBook returns the mirrored book or domain.ErrNotFound.
func (m *BookMirror) GetBook(ctx context.Context, exchange, symbol string) (domain.OrderBook, error) {
	raw, err := m.rdb.Get(ctx, bookKey(exchange, symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s/%s: %w", exchange, symbol, domain.ErrNotFound)
	}
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s/%s: %w", exchange, symbol, err)
	}
	var book domain.OrderBook
	if err := json.Unmarshal(raw, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: decode book %s/%s: %w", exchange, symbol, err)
	}
	return book, nil
}

// DeleteExchange removes every mirrored book of exchange.
func (m *BookMirror) DeleteExchange(ctx context.Context, exchange string) error {
	symbols, err := m.rdb.SMembers(ctx, bookIndexKey(exchange)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: list books %s: %w", exchange, err)
	}
	keys := make([]string, 0, len(symbols)+1)
	for _, sym := range symbols {
		keys = append(keys, bookKey(exchange, sym))
	}
	keys = append(keys, bookIndexKey(exchange))
	if err := m.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: delete books %s: %w", exchange, err)
	}
	return nil
}
