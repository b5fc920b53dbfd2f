package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("dispatcher closed")

// Sink delivers a phone number request to the chat platform, directly or
// through a queue.
type Sink interface {
	SendPhoneRequest(ctx context.Context, chatID int64) error
}

// DispatcherConfig sizes the in-process queue.
type DispatcherConfig struct {
	Workers int
	Buffer  int
	// Timeout bounds a single Sink call.
	Timeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Dispatcher hands phone requests to a pool of workers. RequestPhoneNumber
// never blocks the caller: when the buffer is full the request is dropped.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	jobs   chan int64
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, cfg DispatcherConfig, logger *zap.SugaredLogger) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := &Dispatcher{
		sink:    sink,
		timeout: cfg.Timeout,
		logger:  logger,
		jobs:    make(chan int64, cfg.Buffer),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.work()
	}
	return d
}

// RequestPhoneNumber enqueues a request for chatID and returns immediately.
func (d *Dispatcher) RequestPhoneNumber(chatID int64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warnw("phone request after shutdown dropped", "chatId", chatID)
		return
	}
	select {
	case d.jobs <- chatID:
	default:
		d.logger.Warnw("phone request queue full, dropping", "chatId", chatID)
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for chatID := range d.jobs {
		d.deliver(chatID)
	}
}

func (d *Dispatcher) deliver(chatID int64) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("phone request sink panicked", "chatId", chatID, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.SendPhoneRequest(ctx, chatID); err != nil {
		d.logger.Warnw("phone request failed", "chatId", chatID, "err", err)
		return
	}
	d.logger.Debugw("phone request delivered", "chatId", chatID)
}

// Close stops accepting requests and waits for queued ones to drain, or for
// ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
