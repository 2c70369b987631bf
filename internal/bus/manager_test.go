package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/fwtopo/internal/config"
	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
	"github.com/gyaneshwarpardhi/fwtopo/internal/selfid"
	"github.com/gyaneshwarpardhi/fwtopo/internal/topology"
)

type recorder struct {
	mu        sync.Mutex
	flushed   []uint32
	batches   []*event.Batch
	retries   int
	scheduled []uint32
	resets    []string
}

func (r *recorder) Flush(_ context.Context, gen uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushed = append(r.flushed, gen)
	return nil
}

func (r *recorder) Publish(_ context.Context, b *event.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

func (r *recorder) ResetRetries() { r.retries++ }

func (r *recorder) Schedule(gen uint32) { r.scheduled = append(r.scheduled, gen) }

func newManager(t *testing.T, conf config.BusConf) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	m := New(conf, Deps{
		Flusher:   rec,
		Publisher: rec,
		Roles:     rec,
		Resetter: ResetFunc(func(_ context.Context, reason string) error {
			rec.resets = append(rec.resets, reason)
			return nil
		}),
	})
	return m, rec
}

func holdConf() config.BusConf {
	return config.BusConf{Name: "fw0", FailurePolicy: config.PolicyHold, MaxForcedResets: 3}
}

func node(phy uint8, link bool, ports ...selfid.PortState) selfid.Record {
	return selfid.Record{PhyID: phy, LinkOn: link, Speed: selfid.S400, GapCount: 63, Ports: ports}
}

func quads(t *testing.T, recs ...selfid.Record) []uint32 {
	t.Helper()
	q, err := selfid.EncodeAll(recs)
	require.NoError(t, err)
	return q
}

// line is A(0) - B(1) - C(2) with C as root.
func line(t *testing.T) []uint32 {
	return quads(t,
		node(0, true, selfid.PortParent),
		node(1, true, selfid.PortChild, selfid.PortParent),
		node(2, true, selfid.PortChild),
	)
}

// broken leaves two subtrees without a common root.
func broken(t *testing.T) []uint32 {
	return quads(t, node(0, true, selfid.PortParent), node(1, true))
}

func reset(gen uint32, local uint8, q []uint32) Reset {
	return Reset{NodeID: topology.LocalBus | uint16(local), Generation: gen, SelfIDs: q}
}

func kinds(b *event.Batch) []event.Kind {
	out := make([]event.Kind, len(b.Events))
	for i, ev := range b.Events {
		out[i] = ev.Kind
	}
	return out
}

func TestHandleReset_FirstReset(t *testing.T) {
	m, rec := newManager(t, holdConf())

	out, err := m.HandleReset(context.Background(), reset(1, 0, line(t)))
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 3, out.Nodes)
	assert.Empty(t, rec.flushed, "nothing to flush before the first reset")

	require.Len(t, rec.batches, 1)
	b := rec.batches[0]
	assert.Equal(t, "fw0", b.Bus)
	assert.Equal(t, uint32(1), b.Generation)
	assert.Equal(t, []event.Kind{event.KindCreated, event.KindCreated, event.KindCreated}, kinds(b))
	assert.Same(t, out.Batch, b)

	assert.Equal(t, 1, rec.retries)
	assert.Equal(t, []uint32{1}, rec.scheduled, "local node is not root")

	snap := m.Snapshot()
	assert.Equal(t, uint32(1), snap.Generation)
	assert.False(t, snap.Stale)
	require.Len(t, snap.Nodes, 3)
	require.NotNil(t, snap.Root)
	assert.Equal(t, uint8(2), snap.Root.PhyID)
	assert.Equal(t, uint8(0), snap.Local.PhyID)
	assert.Nil(t, snap.Contender)
	assert.Equal(t, 2, snap.MaxHops)
}

func TestHandleReset_Unchanged(t *testing.T) {
	m, rec := newManager(t, holdConf())
	ctx := context.Background()
	_, err := m.HandleReset(ctx, reset(1, 0, line(t)))
	require.NoError(t, err)
	first := m.Snapshot()

	out, err := m.HandleReset(ctx, reset(2, 0, line(t)))
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, []uint32{1}, rec.flushed, "previous generation is flushed first")
	assert.Equal(t, []event.Kind{event.KindUpdated, event.KindUpdated, event.KindUpdated}, kinds(rec.batches[1]))
	assert.Equal(t, 1, rec.retries, "retries only reset on structural change")

	second := m.Snapshot()
	for i := range first.Nodes {
		assert.Equal(t, first.Nodes[i].Handle, second.Nodes[i].Handle)
	}
}

func TestHandleReset_GenerationWraps(t *testing.T) {
	m, rec := newManager(t, holdConf())
	ctx := context.Background()
	_, err := m.HandleReset(ctx, reset(255, 0, line(t)))
	require.NoError(t, err)
	out, err := m.HandleReset(ctx, reset(256, 0, line(t)))
	require.NoError(t, err)
	assert.False(t, out.SkippedGeneration)
	assert.Equal(t, event.KindUpdated, rec.batches[1].Events[0].Kind)
}

func TestHandleReset_SkippedGeneration(t *testing.T) {
	m, rec := newManager(t, holdConf())
	ctx := context.Background()
	_, err := m.HandleReset(ctx, reset(1, 0, line(t)))
	require.NoError(t, err)
	before := m.Snapshot()

	out, err := m.HandleReset(ctx, reset(5, 0, line(t)))
	require.NoError(t, err)
	assert.True(t, out.SkippedGeneration)
	assert.True(t, out.Changed)
	assert.Equal(t, []event.Kind{
		event.KindDestroyed, event.KindDestroyed, event.KindDestroyed,
		event.KindCreated, event.KindCreated, event.KindCreated,
	}, kinds(rec.batches[1]))

	after := m.Snapshot()
	require.Len(t, after.Nodes, 3)
	assert.NotEqual(t, before.Nodes[0].Handle, after.Nodes[0].Handle, "nodes are re-created")
}

func TestHandleReset_FailureHoldsTopology(t *testing.T) {
	m, rec := newManager(t, holdConf())
	ctx := context.Background()
	_, err := m.HandleReset(ctx, reset(1, 0, line(t)))
	require.NoError(t, err)

	out, err := m.HandleReset(ctx, reset(2, 0, broken(t)))
	require.Error(t, err)
	assert.ErrorIs(t, err, topology.ErrDisconnected)
	assert.True(t, out.Stale)
	assert.Equal(t, 1, out.Failures)
	assert.False(t, out.ForcedReset)
	assert.Nil(t, out.Batch)
	assert.Len(t, rec.batches, 1, "nothing published for a rejected snapshot")
	assert.Empty(t, rec.resets)

	snap := m.Snapshot()
	assert.True(t, snap.Stale)
	assert.Equal(t, uint32(2), snap.Generation)
	assert.Len(t, snap.Nodes, 3, "previous topology retained")

	out, err = m.HandleReset(ctx, reset(3, 0, line(t)))
	require.NoError(t, err)
	assert.False(t, out.Stale)
	assert.False(t, m.Snapshot().Stale)
	assert.Equal(t, event.KindUpdated, rec.batches[1].Events[0].Kind, "retained tree is diffed, not re-created")
}

func TestHandleReset_ForcedResetsAreBounded(t *testing.T) {
	m, rec := newManager(t, config.BusConf{Name: "fw0", FailurePolicy: config.PolicyReset, MaxForcedResets: 2})
	ctx := context.Background()

	for gen := uint32(1); gen <= 3; gen++ {
		out, err := m.HandleReset(ctx, reset(gen, 0, broken(t)))
		require.Error(t, err)
		assert.Equal(t, gen <= 2, out.ForcedReset, "generation %d", gen)
	}
	assert.Equal(t, []string{"disconnected", "disconnected"}, rec.resets)

	_, err := m.HandleReset(ctx, reset(4, 0, line(t)))
	require.NoError(t, err)
	out, err := m.HandleReset(ctx, reset(5, 0, broken(t)))
	require.Error(t, err)
	assert.True(t, out.ForcedReset, "a good rebuild clears the failure count")
	assert.Len(t, rec.resets, 3)
}

func TestHandleReset_SkippedGenerationThenFailure(t *testing.T) {
	m, rec := newManager(t, holdConf())
	ctx := context.Background()
	_, err := m.HandleReset(ctx, reset(1, 0, line(t)))
	require.NoError(t, err)

	out, err := m.HandleReset(ctx, reset(9, 0, broken(t)))
	require.Error(t, err)
	require.NotNil(t, out.Batch, "destroyed nodes are still reported")
	assert.Equal(t, []event.Kind{event.KindDestroyed, event.KindDestroyed, event.KindDestroyed}, kinds(rec.batches[1]))
	assert.Empty(t, m.Snapshot().Nodes)
}

func TestHandleReset_MovedPortKeepsLocalNode(t *testing.T) {
	m, rec := newManager(t, holdConf())
	ctx := context.Background()
	port0 := quads(t, node(0, true, selfid.PortParent), node(1, true, selfid.PortChild, selfid.PortNotConnected))
	port1 := quads(t, node(0, true, selfid.PortParent), node(1, true, selfid.PortNotConnected, selfid.PortChild))

	_, err := m.HandleReset(ctx, reset(1, 0, port0))
	require.NoError(t, err)
	for gen := uint32(2); gen <= 3; gen++ {
		out, err := m.HandleReset(ctx, reset(gen, 0, port1))
		require.NoError(t, err)
		assert.False(t, out.Changed, "gen %d", gen)
		assert.Equal(t, 2, out.Nodes, "gen %d", gen)
		assert.Zero(t, out.Batch.Count()[event.KindDestroyed], "gen %d", gen)
	}
	snap := m.Snapshot()
	require.NotNil(t, snap.Local)
	assert.Equal(t, rec.batches[0].Events[0].Node.Handle, snap.Local.Handle)
}

// gatedPublisher holds the first batch until release is closed.
type gatedPublisher struct {
	*recorder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedPublisher) Publish(ctx context.Context, b *event.Batch) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.recorder.Publish(ctx, b)
}

func TestHandleReset_ConcurrentResetsPublishInOrder(t *testing.T) {
	rec := &recorder{}
	pub := &gatedPublisher{recorder: rec, entered: make(chan struct{}), release: make(chan struct{})}
	m := New(holdConf(), Deps{Flusher: rec, Publisher: pub})
	ctx := context.Background()
	first := line(t)
	second := quads(t,
		node(0, true, selfid.PortParent),
		node(1, true, selfid.PortChild, selfid.PortNotConnected),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := m.HandleReset(ctx, reset(1, 0, first))
		assert.NoError(t, err)
	}()
	<-pub.entered

	go func() {
		defer wg.Done()
		_, err := m.HandleReset(ctx, reset(2, 0, second))
		assert.NoError(t, err)
	}()
	assert.Never(t, func() bool { return m.Generation() == 2 }, 50*time.Millisecond, 5*time.Millisecond,
		"second reset must not be applied while the first batch is unpublished")
	assert.Len(t, m.Snapshot().Nodes, 3, "snapshots stay readable while a batch is being published")

	close(pub.release)
	wg.Wait()

	require.Len(t, rec.batches, 2)
	assert.Equal(t, uint32(1), rec.batches[0].Generation)
	assert.Equal(t, uint32(2), rec.batches[1].Generation)
	assert.Equal(t, 3, rec.batches[0].Count()[event.KindCreated])
	assert.Equal(t, 1, rec.batches[1].Count()[event.KindDestroyed])
}

func TestHandleReset_LocalRoot(t *testing.T) {
	m, rec := newManager(t, holdConf())
	_, err := m.HandleReset(context.Background(), reset(1, 2, line(t)))
	require.NoError(t, err)
	assert.Empty(t, rec.scheduled, "root does not schedule bus manager work")
}

func TestDestroyAll(t *testing.T) {
	m, rec := newManager(t, holdConf())
	ctx := context.Background()
	assert.Nil(t, m.DestroyAll(ctx))

	_, err := m.HandleReset(ctx, reset(1, 0, line(t)))
	require.NoError(t, err)
	b := m.DestroyAll(ctx)
	require.NotNil(t, b)
	assert.True(t, b.Changed)
	assert.Equal(t, 3, b.Count()[event.KindDestroyed])
	assert.Same(t, b, rec.batches[1])
	assert.Empty(t, m.Snapshot().Nodes)
}

func TestTopologyMap(t *testing.T) {
	m, _ := newManager(t, holdConf())
	assert.Nil(t, m.TopologyMap())
	ctx := context.Background()
	q := line(t)

	_, err := m.HandleReset(ctx, reset(1, 0, q))
	require.NoError(t, err)
	tm := m.TopologyMap()
	require.NoError(t, CheckTopologyMap(tm))
	assert.Equal(t, uint32(len(q)+2), tm[0]>>16)
	assert.Equal(t, uint32(1), tm[1])
	assert.Equal(t, uint32(3)<<16|uint32(len(q)), tm[2])
	assert.Equal(t, q, tm[3:])

	_, err = m.HandleReset(ctx, reset(2, 0, broken(t)))
	require.Error(t, err)
	tm = m.TopologyMap()
	require.NoError(t, CheckTopologyMap(tm), "map follows the raw self-IDs even when the build fails")
	assert.Equal(t, uint32(2), tm[1])

	tm[4] ^= 1
	assert.True(t, errors.Is(CheckTopologyMap(tm), ErrTopologyMap))
}

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0x31c3), crc16([]byte("123456789")))
	assert.Equal(t, uint16(0), crc16(nil))
}

func TestLogRoles(t *testing.T) {
	r := NewLogRoles(nil)
	r.ResetRetries()
	r.Schedule(4)
	assert.Equal(t, RoleState{RetryResets: 1, Scheduled: true, ScheduledGeneration: 4}, r.State())
}
