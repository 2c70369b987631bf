package bus

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/fwtopo/internal/config"
	"github.com/gyaneshwarpardhi/fwtopo/internal/ctxlog"
	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
	"github.com/gyaneshwarpardhi/fwtopo/internal/metrics"
	"github.com/gyaneshwarpardhi/fwtopo/internal/topology"
)

// Outcome summarises one handled reset.
type Outcome struct {
	Generation        uint32       `json:"generation"`
	Batch             *event.Batch `json:"batch,omitempty"` // nil when nothing was published
	Changed           bool         `json:"changed"`
	SkippedGeneration bool         `json:"skipped_generation"`
	Stale             bool         `json:"stale"`
	Failures          int          `json:"consecutive_failures"`
	ForcedReset       bool         `json:"forced_reset"`
	PortMismatches    int          `json:"port_mismatches"`
	Nodes             int          `json:"nodes"`

	localIsRoot bool
}

// Manager keeps the topology of one bus across resets. All state is
// guarded by mu; decoding, building and diffing run under it and never
// block, while publishing happens after it is released. publishMu is held
// from rebuild until the batch is published so batches leave in the order
// the resets were applied.
type Manager struct {
	deps Deps

	publishMu sync.Mutex // taken before mu

	mu         sync.Mutex
	conf       config.BusConf
	generation uint32
	nodeID     uint16
	selfIDs    []uint32
	tree       *topology.Tree // nil until the first good snapshot
	epoch      uint64
	topoMap    []uint32
	mapCounter uint32
	stale      bool
	failures   int

	// previous generation for Flush, read before mu is taken; -1 before
	// the first reset.
	prevGen atomic.Int64
}

// New creates a Manager for one bus.
func New(conf config.BusConf, deps Deps) *Manager {
	m := &Manager{conf: conf, deps: deps.withDefaults()}
	m.prevGen.Store(-1)
	return m
}

// SetConfig replaces the bus settings; used on hot reload.
func (m *Manager) SetConfig(conf config.BusConf) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conf = conf
}

// Generation returns the generation of the last handled reset.
func (m *Manager) Generation() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// HandleReset processes one bus reset. On a malformed snapshot the
// previous topology is kept and marked stale, and the returned error wraps
// the topology build error; the Outcome is returned either way.
func (m *Manager) HandleReset(ctx context.Context, r Reset) (*Outcome, error) {
	start := time.Now()
	logger := ctxlog.FromContext(ctx).With("generation", r.Generation, "node_id", fmt.Sprintf("%#04x", r.NodeID))

	if prev := m.prevGen.Load(); prev >= 0 {
		if err := m.deps.Flusher.Flush(ctx, uint32(prev)); err != nil {
			logger.Warn("flush of previous generation failed", "previous", prev, "err", err)
		}
	}

	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	name := m.conf.Name
	out, events, err := m.rebuild(r)
	m.mu.Unlock()
	m.prevGen.Store(int64(r.Generation))

	metrics.ResetsHandled.Inc()
	metrics.RebuildDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	logger = logger.With("bus", name)

	if out.SkippedGeneration {
		metrics.SkippedGenerations.Inc()
		logger.Warn("generation skipped, all nodes destroyed")
	}
	if err == nil || len(events) > 0 {
		out.Batch = event.NewBatch(name, r.Generation, out.Changed, events)
		for _, ev := range events {
			metrics.NodeEvents.WithLabelValues(string(ev.Kind)).Inc()
		}
		if perr := m.deps.Publisher.Publish(ctx, out.Batch); perr != nil {
			logger.Warn("publishing node events failed", "batch", out.Batch.ID, "err", perr)
		}
	}

	if err != nil {
		reason := topology.Reason(err)
		metrics.BuildFailures.WithLabelValues(reason).Inc()
		metrics.TopologyStale.Set(1)
		logger.Error("self-ID snapshot rejected, keeping previous topology",
			"reason", reason, "consecutive_failures", out.Failures, "err", err)
		if out.ForcedReset {
			metrics.ForcedResets.Inc()
			if rerr := m.deps.Resetter.Reset(ctx, reason); rerr != nil {
				logger.Warn("forced bus reset failed", "err", rerr)
			}
		}
		return out, fmt.Errorf("generation %d: %w", r.Generation, err)
	}

	metrics.TopologyStale.Set(0)
	metrics.NodeCount.Set(float64(out.Nodes))
	if out.PortMismatches > 0 {
		metrics.PortMismatches.Add(float64(out.PortMismatches))
		logger.Warn("port numbering changed between resets", "mismatches", out.PortMismatches)
	}
	if !out.localIsRoot {
		m.deps.Roles.Schedule(r.Generation)
	}
	logger.Info("topology updated", "nodes", out.Nodes, "events", len(events), "changed", out.Changed)
	return out, nil
}

// rebuild runs with mu held.
func (m *Manager) rebuild(r Reset) (*Outcome, []event.Event, error) {
	out := &Outcome{Generation: r.Generation}
	var events []event.Event

	if m.tree != nil && r.Generation&0xff != (m.generation+1)&0xff {
		m.epoch++
		events = m.tree.DestroyAll(m.epoch, r.Generation)
		m.tree = nil
		out.SkippedGeneration = true
		out.Changed = true
	}

	m.generation = r.Generation
	m.nodeID = r.NodeID
	m.selfIDs = slices.Clone(r.SelfIDs)
	m.mapCounter++
	m.topoMap = buildTopologyMap(m.mapCounter, m.selfIDs)
	m.epoch++

	next, err := topology.Build(m.selfIDs, r.NodeID)
	if err != nil {
		m.stale = true
		m.failures++
		out.Stale = true
		out.Failures = m.failures
		out.ForcedReset = m.conf.FailurePolicy == config.PolicyReset && m.failures <= m.conf.MaxForcedResets
		if m.tree != nil {
			out.Nodes = m.tree.Len()
		}
		return out, events, err
	}
	m.stale = false
	m.failures = 0

	if m.tree == nil {
		events = append(events, next.Enumerate(m.epoch, r.Generation)...)
		m.tree = next
		out.Changed = true
	} else {
		res := topology.Diff(m.tree, next, m.epoch, r.Generation)
		events = append(events, res.Events...)
		out.Changed = out.Changed || res.Changed
		out.PortMismatches = res.PortMismatches
	}
	if out.Changed {
		m.deps.Roles.ResetRetries()
	}
	out.Nodes = m.tree.Len()
	out.localIsRoot = m.tree.Local() == m.tree.Root()
	return out, events, nil
}

// DestroyAll reports every node as destroyed and forgets the topology,
// for example on shutdown. It returns nil if there was nothing to destroy.
func (m *Manager) DestroyAll(ctx context.Context) *event.Batch {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if m.tree == nil {
		m.mu.Unlock()
		return nil
	}
	m.epoch++
	events := m.tree.DestroyAll(m.epoch, m.generation)
	m.tree = nil
	name, gen := m.conf.Name, m.generation
	m.mu.Unlock()

	metrics.NodeCount.Set(0)
	b := event.NewBatch(name, gen, true, events)
	for _, ev := range events {
		metrics.NodeEvents.WithLabelValues(string(ev.Kind)).Inc()
	}
	if err := m.deps.Publisher.Publish(ctx, b); err != nil {
		ctxlog.FromContext(ctx).Warn("publishing node events failed", "bus", name, "batch", b.ID, "err", err)
	}
	return b
}

// Snapshot is a consistent copy of the bus state.
type Snapshot struct {
	Bus                 string              `json:"bus"`
	Generation          uint32              `json:"generation"`
	LocalNodeID         uint16              `json:"local_node_id"`
	Stale               bool                `json:"stale"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	Root                *topology.NodeView  `json:"root,omitempty"`
	Local               *topology.NodeView  `json:"local,omitempty"`
	Contender           *topology.NodeView  `json:"contender,omitempty"`
	GapCount            uint8               `json:"gap_count"`
	OptimalGapCount     uint8               `json:"optimal_gap_count"`
	BetaRepeaters       bool                `json:"beta_repeaters"`
	MaxHops             int                 `json:"max_hops"`
	Nodes               []topology.NodeView `json:"nodes"`
}

// Snapshot copies the current topology.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Bus:                 m.conf.Name,
		Generation:          m.generation,
		LocalNodeID:         m.nodeID,
		Stale:               m.stale,
		ConsecutiveFailures: m.failures,
		Nodes:               []topology.NodeView{},
	}
	t := m.tree
	if t == nil {
		return s
	}
	view := func(i int) *topology.NodeView {
		if i == topology.NoPeer {
			return nil
		}
		v := t.View(i)
		return &v
	}
	s.Root = view(t.Root())
	s.Local = view(t.Local())
	s.Contender = view(t.Contender())
	s.GapCount = t.GapCount()
	s.OptimalGapCount = t.OptimalGapCount()
	s.BetaRepeaters = t.BetaRepeatersPresent()
	s.MaxHops = t.MaxHops()
	s.Nodes = t.Views()
	return s
}

// TopologyMap returns a copy of the topology map image built from the
// latest self-IDs, or nil before the first reset.
func (m *Manager) TopologyMap() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.topoMap)
}
