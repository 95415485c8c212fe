package dao

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

// Listener holds one dedicated connection LISTENing on every inbox
// channel and fans notifications out to subscribers. When the connection
// drops, all subscriber channels are closed so adapters re-subscribe.
type Listener struct {
	pool     *pgxpool.Pool
	channels []string
	logger   *slog.Logger

	mu        sync.Mutex
	subs      map[string]map[chan string]chan struct{} // subscriber -> done
	connected bool
	watchers  sync.WaitGroup
}

// NewListener creates a listener for the given channels
func NewListener(pool *pgxpool.Pool, channels []string, logger *slog.Logger) *Listener {
	return &Listener{
		pool:     pool,
		channels: channels,
		logger:   logger,
		subs:     make(map[string]map[chan string]chan struct{}),
	}
}

// Listen registers a subscriber. It fails while the connection is down.
func (l *Listener) Listen(ctx context.Context, channel string) (<-chan string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return nil, fmt.Errorf("%w: notification connection down", entity.ErrSourceUnavailable)
	}
	if !l.known(channel) {
		return nil, fmt.Errorf("unknown notification channel %q", channel)
	}

	ch := make(chan string, 16)
	done := make(chan struct{})
	if l.subs[channel] == nil {
		l.subs[channel] = make(map[chan string]chan struct{})
	}
	l.subs[channel][ch] = done

	l.watchers.Add(1)
	go func() {
		defer l.watchers.Done()
		select {
		case <-ctx.Done():
			l.unsubscribe(channel, ch)
		case <-done:
		}
	}()

	return ch, nil
}

func (l *Listener) known(channel string) bool {
	for _, c := range l.channels {
		if c == channel {
			return true
		}
	}
	return false
}

func (l *Listener) unsubscribe(channel string, ch chan string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if done, ok := l.subs[channel][ch]; ok {
		delete(l.subs[channel], ch)
		close(ch)
		close(done)
	}
}

// Run keeps the LISTEN connection alive until ctx is cancelled
func (l *Listener) Run(ctx context.Context) {
	wait := 500 * time.Millisecond
	for {
		err := l.listen(ctx)
		l.disconnect()
		if ctx.Err() != nil {
			l.watchers.Wait()
			return
		}

		l.logger.Error("notification listener disconnected", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			l.watchers.Wait()
			return
		case <-time.After(wait):
		}
		if wait < 30*time.Second {
			wait *= 2
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	// a LISTENing connection must never return to the pool
	raw := conn.Hijack()
	defer raw.Close(context.Background())

	for _, channel := range l.channels {
		if _, err := raw.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			return fmt.Errorf("listening on %s: %w", channel, err)
		}
	}

	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	l.logger.Info("notification listener connected", "channels", l.channels)

	for {
		n, err := raw.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("waiting for notification: %w", err)
		}
		l.dispatch(n.Channel, n.Payload)
	}
}

// dispatch never blocks; a full subscriber buffer already holds a pending
// reload trigger.
func (l *Listener) dispatch(channel, payload string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (l *Listener) disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	for channel, set := range l.subs {
		for ch, done := range set {
			close(ch)
			close(done)
		}
		delete(l.subs, channel)
	}
}
