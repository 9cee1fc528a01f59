package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
	defaultSendTimeout = 5 * time.Second
)

type queued struct {
	event     Event
	attempt   int
	notBefore time.Time
}

// Dispatcher entrega eventos en orden con un unico worker. Enqueue nunca bloquea
// por red. Un envio fallido vuelve a la cabeza de la cola con espera lineal,
// asi el orden de entrega respeta el orden de encolado.
type Dispatcher struct {
	logger      *zap.Logger
	sender      Sender
	maxAttempts int
	retryDelay  time.Duration
	sendTimeout time.Duration

	mu       sync.Mutex
	queue    []queued
	running  bool
	closed   bool
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

type DispatcherConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

func NewDispatcher(logger *zap.Logger, sender Sender, cfg DispatcherConfig) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = NewDisabledSender()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		logger:      logger,
		sender:      sender,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		sendTimeout: cfg.SendTimeout,
		stop:        make(chan struct{}),
	}
}

// Enqueue agrega el evento y arranca el worker si no esta corriendo. Devuelve
// false solo si el dispatcher ya fue cerrado.
func (d *Dispatcher) Enqueue(event Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("notification dropped after close",
			zap.String("type", string(event.Type)),
			zap.String("session_id", event.SessionID),
		)
		return false
	}
	d.queue = append(d.queue, queued{event: event})
	if !d.running {
		d.running = true
		d.wg.Add(1)
		go d.run()
	}
	return true
}

// Pending devuelve la cantidad de eventos en cola, incluido el que se esta enviando.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close deja de aceptar eventos y espera a que la cola se vacie. Si ctx vence
// antes, se descarta lo pendiente.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
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
		d.stopOnce.Do(func() { close(d.stop) })
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		item := d.queue[0]
		d.mu.Unlock()

		if !d.waitUntil(item.notBefore) {
			d.abandon()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := d.sender.Send(ctx, item.event)
		cancel()

		d.mu.Lock()
		d.queue = d.queue[1:]
		if err != nil {
			item.attempt++
			if item.attempt < d.maxAttempts && !errors.Is(err, ErrSenderDisabled) {
				item.notBefore = time.Now().Add(time.Duration(item.attempt) * d.retryDelay)
				d.queue = append([]queued{item}, d.queue...)
				d.logger.Warn("notification send failed, retrying",
					zap.String("type", string(item.event.Type)),
					zap.String("session_id", item.event.SessionID),
					zap.Int("attempt", item.attempt),
					zap.Error(err),
				)
			} else {
				d.logger.Error("notification dropped",
					zap.String("type", string(item.event.Type)),
					zap.String("session_id", item.event.SessionID),
					zap.Int("attempts", item.attempt),
					zap.Error(err),
				)
			}
		}
		d.mu.Unlock()
	}
}

func (d *Dispatcher) waitUntil(at time.Time) bool {
	select {
	case <-d.stop:
		return false
	default:
	}
	wait := time.Until(at)
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.stop:
		return false
	}
}

func (d *Dispatcher) abandon() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.queue); n > 0 {
		d.logger.Warn("notifications abandoned on shutdown", zap.Int("count", n))
	}
	d.queue = nil
	d.running = false
}
