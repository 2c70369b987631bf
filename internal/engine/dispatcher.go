// Package engine fans node event batches out to subscribers. Each
// subscriber owns a single-worker queue, so it sees batches in publication
// order and a slow subscriber only delays itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/fwtopo/internal/config"
	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
	"github.com/gyaneshwarpardhi/fwtopo/internal/filter"
	"github.com/gyaneshwarpardhi/fwtopo/internal/metrics"
	"github.com/gyaneshwarpardhi/fwtopo/internal/subscriber"
)

// ErrClosed is returned once the dispatcher or a subscriber queue is shut down.
var ErrClosed = errors.New("dispatcher closed")

// delivery is either a batch or, with done set, a flush barrier.
type delivery struct {
	batch *event.Batch
	done  chan struct{}
}

type route struct {
	name   string               // fixed for the lifetime of the route
	def    config.SubscriberDef // guarded by Dispatcher.mu
	sub    subscriber.Subscriber
	filter atomic.Pointer[filter.Filter]
	pool   *workerPool[delivery]

	mu     sync.RWMutex // held for reading while submitting
	closed bool
}

func (r *route) submit(ctx context.Context, d delivery) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return r.pool.Submit(ctx, d)
}

func (r *route) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.pool.Drain()
}

// Info describes one active subscriber.
type Info struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Filter   string `json:"filter,omitempty"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`
}

// Dispatcher delivers event batches to the configured subscribers.
type Dispatcher struct {
	ctx      context.Context
	registry *subscriber.Registry
	logger   *slog.Logger
	timeout  atomic.Int64 // per-delivery timeout in ms, 0 = none
	depth    atomic.Int64

	mu     sync.RWMutex
	routes []*route
	closed bool
}

// New creates a Dispatcher. ctx bounds the lifetime of every subscriber
// worker.
func New(ctx context.Context, reg *subscriber.Registry, conf config.DispatcherConf) *Dispatcher {
	d := &Dispatcher{
		ctx:      ctx,
		registry: reg,
		logger:   slog.Default().With("component", "dispatcher"),
	}
	d.SetConfig(conf)
	return d
}

// SetConfig updates the delivery timeout and the queue depth used for
// subscribers added from now on.
func (d *Dispatcher) SetConfig(conf config.DispatcherConf) {
	d.timeout.Store(int64(conf.DeliveryTimeoutMs))
	depth := conf.QueueDepth
	if depth < 1 {
		depth = 1
	}
	d.depth.Store(int64(depth))
}

// Apply reconciles the subscriber set with defs. Unchanged subscribers
// keep their instance and queue, so only their filter is swapped; removed
// ones are drained. Nothing changes if any definition is invalid.
func (d *Dispatcher) Apply(defs []config.SubscriberDef) error {
	type planned struct {
		def    config.SubscriberDef
		filter *filter.Filter
	}
	var plan []planned
	var errs []string
	for _, def := range defs {
		if def.Disabled {
			continue
		}
		f, err := d.registry.Get(def.Type)
		if err != nil {
			errs = append(errs, fmt.Sprintf("subscriber %s: %s", def.Name, err))
			continue
		}
		if err := f.Validate(def.Params); err != nil {
			errs = append(errs, fmt.Sprintf("subscriber %s: %s", def.Name, err))
			continue
		}
		flt, err := filter.Parse(def.Filter)
		if err != nil {
			errs = append(errs, fmt.Sprintf("subscriber %s: filter: %s", def.Name, err))
			continue
		}
		plan = append(plan, planned{def: def, filter: flt})
	}
	if len(errs) > 0 {
		return fmt.Errorf("subscribers not applied:\n  - %s", strings.Join(errs, "\n  - "))
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	current := make(map[string]*route, len(d.routes))
	for _, r := range d.routes {
		current[r.def.Name] = r
	}
	started := make(map[string]*route)
	for _, p := range plan {
		if r, ok := current[p.def.Name]; ok && sameInstance(r.def, p.def) {
			continue
		}
		r, err := d.start(p.def, p.filter)
		if err != nil {
			d.mu.Unlock()
			for _, r := range started {
				r.close()
			}
			return fmt.Errorf("subscriber %s: %w", p.def.Name, err)
		}
		started[p.def.Name] = r
	}
	next := make([]*route, 0, len(plan))
	for _, p := range plan {
		r, ok := started[p.def.Name]
		if !ok {
			r = current[p.def.Name]
			r.def = p.def
			r.filter.Store(p.filter)
			delete(current, p.def.Name)
		}
		next = append(next, r)
	}
	d.routes = next
	d.mu.Unlock()

	for name, r := range current {
		r.close()
		d.logger.Info("subscriber removed", "subscriber", name)
	}
	return nil
}

func sameInstance(a, b config.SubscriberDef) bool {
	return a.Type == b.Type && reflect.DeepEqual(a.Params, b.Params)
}

// start runs with d.mu held.
func (d *Dispatcher) start(def config.SubscriberDef, flt *filter.Filter) (*route, error) {
	f, err := d.registry.Get(def.Type)
	if err != nil {
		return nil, err
	}
	sub, err := f.New(def.Name, def.Params)
	if err != nil {
		return nil, err
	}
	r := &route{name: def.Name, def: def, sub: sub}
	r.filter.Store(flt)
	r.pool = newWorkerPool[delivery](d.ctx, 1, int(d.depth.Load()), func(ctx context.Context, dl delivery) {
		d.deliver(ctx, r, dl)
	})
	d.logger.Info("subscriber started", "subscriber", def.Name, "type", def.Type, "filter", flt.String())
	return r, nil
}

func (d *Dispatcher) deliver(ctx context.Context, r *route, dl delivery) {
	if dl.done != nil {
		close(dl.done)
		return
	}
	name := r.name
	b := d.filtered(r, dl.batch)
	if b == nil {
		metrics.Deliveries.WithLabelValues(name, "filtered").Inc()
		return
	}
	if ms := d.timeout.Load(); ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}
	if err := r.sub.Deliver(ctx, b); err != nil {
		metrics.Deliveries.WithLabelValues(name, "error").Inc()
		d.logger.Warn("delivery failed", "subscriber", name, "batch", b.ID, "generation", b.Generation, "err", err)
		return
	}
	metrics.Deliveries.WithLabelValues(name, "success").Inc()
}

// filtered returns the part of b the route wants, or nil if none.
func (d *Dispatcher) filtered(r *route, b *event.Batch) *event.Batch {
	flt := r.filter.Load()
	if flt.String() == "" {
		return b
	}
	events := make([]event.Event, 0, len(b.Events))
	for i := range b.Events {
		if flt.Match(&b.Events[i]) {
			events = append(events, b.Events[i])
		}
	}
	if len(events) == 0 {
		return nil
	}
	out := *b
	out.Events = events
	return &out
}

func (d *Dispatcher) snapshot() ([]*route, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	return append([]*route(nil), d.routes...), nil
}

// Publish queues b for every subscriber, waiting for queue room until ctx
// is done. Subscribers whose queue could not take the batch are reported
// in the returned error; the others still receive it.
func (d *Dispatcher) Publish(ctx context.Context, b *event.Batch) error {
	routes, err := d.snapshot()
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range routes {
		if err := r.submit(ctx, delivery{batch: b}); err != nil {
			metrics.Deliveries.WithLabelValues(r.name, "dropped").Inc()
			errs = append(errs, fmt.Errorf("subscriber %s: %w", r.name, err))
		}
	}
	metrics.QueueUtilization.Set(d.QueueUtilization())
	return errors.Join(errs...)
}

// Flush returns once every batch published before the call has been
// handled by every subscriber, or when ctx is done.
func (d *Dispatcher) Flush(ctx context.Context, generation uint32) error {
	routes, err := d.snapshot()
	if err != nil {
		return err
	}
	barriers := make([]chan struct{}, 0, len(routes))
	for _, r := range routes {
		done := make(chan struct{})
		if err := r.submit(ctx, delivery{done: done}); err != nil {
			if errors.Is(err, ErrClosed) {
				continue // removed meanwhile, its queue was drained
			}
			return fmt.Errorf("flush generation %d: %w", generation, err)
		}
		barriers = append(barriers, done)
	}
	for _, done := range barriers {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("flush generation %d: %w", generation, ctx.Err())
		}
	}
	return nil
}

// Subscribers lists the active subscribers in configuration order.
func (d *Dispatcher) Subscribers() []Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Info, len(d.routes))
	for i, r := range d.routes {
		out[i] = Info{
			Name:     r.def.Name,
			Type:     r.def.Type,
			Filter:   r.filter.Load().String(),
			QueueLen: r.pool.QueueLen(),
			QueueCap: r.pool.QueueCap(),
		}
	}
	return out
}

// Subscriber returns the active subscriber called name.
func (d *Dispatcher) Subscriber(name string) (subscriber.Subscriber, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.routes {
		if r.def.Name == name {
			return r.sub, true
		}
	}
	return nil, false
}

// QueueUtilization returns the fill ratio of the fullest subscriber queue (0–1).
func (d *Dispatcher) QueueUtilization() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var worst float64
	for _, r := range d.routes {
		if c := r.pool.QueueCap(); c > 0 {
			worst = max(worst, float64(r.pool.QueueLen())/float64(c))
		}
	}
	return worst
}

// Shutdown drains every subscriber queue. Later calls to Publish, Flush
// and Apply return ErrClosed.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	routes := d.routes
	d.routes = nil
	d.mu.Unlock()
	for _, r := range routes {
		r.close()
	}
}
