package webhook

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/TheGojiOG/servervisor/internal/presence"
)

// ErrNotConfigured is returned by SendTest when no URL is set
var ErrNotConfigured = errors.New("webhook URL not configured")

// Delivery outcome labels
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"
)

// Delivery is one queued outbound notification
type Delivery struct {
	ID       string
	Server   string
	Trigger  Trigger
	URL      string
	Content  string
	QueuedAt time.Time
}

// Result is the outcome of one delivery attempt
type Result struct {
	Delivered  bool
	StatusCode int
	Err        error
}

// Observer is told about every delivery outcome
type Observer interface {
	ObserveWebhook(trigger, result string)
}

// Options tunes the delivery workers
type Options struct {
	Workers       int
	QueueSize     int
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	// DrainTimeout bounds how long Run keeps delivering queued notifications
	// after its context is cancelled. Negative disables draining.
	DrainTimeout time.Duration
	Recorder     DeliveryRecorder
	Observer     Observer
}

// Dispatcher decides whether an event produces a notification and hands
// deliveries to background workers so callers never wait on the network.
type Dispatcher struct {
	store    ConfigStore
	notifier Notifier
	recorder DeliveryRecorder
	observer Observer

	queue   chan Delivery
	limiter *rate.Limiter
	timeout time.Duration
	drain   time.Duration
	workers int

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Run to start delivering.
func NewDispatcher(store ConfigStore, notifier Notifier, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.DrainTimeout == 0 {
		opts.DrainTimeout = 5 * time.Second
	}

	return &Dispatcher{
		store:    store,
		notifier: notifier,
		recorder: opts.Recorder,
		observer: opts.Observer,
		queue:    make(chan Delivery, opts.QueueSize),
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		timeout:  opts.Timeout,
		drain:    opts.DrainTimeout,
		workers:  opts.Workers,
	}
}

// Run starts the delivery workers and blocks until ctx is cancelled. Queued
// notifications are still delivered for up to the drain timeout afterwards,
// so events raised during shutdown are not lost.
func (d *Dispatcher) Run(ctx context.Context) {
	workCtx, stop := context.WithCancel(context.Background())
	defer stop()

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, workCtx)
	}
	log.Printf("[Webhook] Dispatcher started with %d workers", d.workers)

	<-ctx.Done()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()
	if d.drain > 0 {
		timer := time.NewTimer(d.drain)
		select {
		case <-drained:
		case <-timer.C:
			log.Printf("[Webhook] Drain timed out after %s", d.drain)
		}
		timer.Stop()
	}
	stop()
	<-drained

	if pending := len(d.queue); pending > 0 {
		log.Printf("[Webhook] Dispatcher stopped with %d undelivered notifications", pending)
	}
}

// Notify queues a notification if server has a URL and trigger enabled.
// It returns true when a delivery was queued. Disabled triggers make no outbound call.
func (d *Dispatcher) Notify(ctx context.Context, server string, trigger Trigger, message string) bool {
	cfg, err := d.store.Load(ctx, server)
	if err != nil {
		log.Printf("[Webhook] Failed to load config for %s: %v", server, err)
		return false
	}
	return d.enqueue(cfg, server, trigger, message)
}

// NotifyPlayerJoined fires player_join_match when player is the watched username
func (d *Dispatcher) NotifyPlayerJoined(ctx context.Context, server, player string) bool {
	cfg, err := d.store.Load(ctx, server)
	if err != nil {
		log.Printf("[Webhook] Failed to load config for %s: %v", server, err)
		return false
	}
	if !presence.MatchesWatched(player, cfg.WatchedUsername) {
		return false
	}
	return d.enqueue(cfg, server, TriggerPlayerJoinMatch, Message(TriggerPlayerJoinMatch, server, player))
}

// SendTest delivers a test message synchronously, ignoring trigger switches
func (d *Dispatcher) SendTest(ctx context.Context, server string) (Result, error) {
	cfg, err := d.store.Load(ctx, server)
	if err != nil {
		return Result{}, err
	}
	if !cfg.Configured() {
		return Result{}, ErrNotConfigured
	}

	delivery := d.newDelivery(cfg, server, TriggerServerStarted, "Test webhook for server '"+server+"'")
	res := d.deliver(ctx, delivery)
	return res, res.Err
}

func (d *Dispatcher) newDelivery(cfg Config, server string, trigger Trigger, message string) Delivery {
	return Delivery{
		ID:       uuid.New().String(),
		Server:   server,
		Trigger:  trigger,
		URL:      cfg.URL,
		Content:  message,
		QueuedAt: time.Now(),
	}
}

func (d *Dispatcher) enqueue(cfg Config, server string, trigger Trigger, message string) bool {
	if !cfg.Enabled(trigger) {
		return false
	}

	delivery := d.newDelivery(cfg, server, trigger, message)
	select {
	case d.queue <- delivery:
		return true
	default:
		log.Printf("[Webhook] Queue full, dropping %s notification for %s", trigger, server)
		d.observe(trigger, ResultDropped)
		return false
	}
}

// worker delivers until ctx is cancelled, then empties the queue until it is
// empty or workCtx is cancelled. Deliveries run under workCtx so a drain can
// finish requests that were in flight at shutdown.
func (d *Dispatcher) worker(ctx, workCtx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			d.drainQueue(workCtx)
			return
		case delivery := <-d.queue:
			d.deliver(workCtx, delivery)
		}
	}
}

func (d *Dispatcher) drainQueue(workCtx context.Context) {
	for workCtx.Err() == nil {
		select {
		case delivery := <-d.queue:
			d.deliver(workCtx, delivery)
		default:
			return
		}
	}
}

// deliver performs a single attempt. Failures are logged and never retried.
func (d *Dispatcher) deliver(ctx context.Context, delivery Delivery) Result {
	if err := d.limiter.Wait(ctx); err != nil {
		return Result{Err: err}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	status, err := d.notifier.Send(sendCtx, delivery.URL, delivery.Content)
	res := Result{Delivered: err == nil, StatusCode: status, Err: err}

	if err != nil {
		log.Printf("[Webhook] Delivery %s (%s) for %s failed: %v", delivery.ID, delivery.Trigger, delivery.Server, err)
		d.observe(delivery.Trigger, ResultFailed)
	} else {
		log.Printf("[Webhook] Delivered %s for %s (status %d)", delivery.Trigger, delivery.Server, status)
		d.observe(delivery.Trigger, ResultDelivered)
	}

	if d.recorder != nil {
		recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.recorder.RecordDelivery(recordCtx, delivery, res); err != nil {
			log.Printf("[Webhook] %v", err)
		}
		cancel()
	}
	return res
}

func (d *Dispatcher) observe(trigger Trigger, result string) {
	if d.observer != nil {
		d.observer.ObserveWebhook(string(trigger), result)
	}
}
