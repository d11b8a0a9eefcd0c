package path

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/relaynet/channel-bridge/entities"
	"github.com/relaynet/channel-bridge/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var ErrMock = errors.New("mock error")

type MockEdgeSource struct {
	edges       map[entities.AccountId][]entities.AccountId
	calls       atomic.Int32
	shouldError bool
}

func (me *MockEdgeSource) Get(_ context.Context, query *entities.ChannelQuery) ([]entities.ChannelInfo, error) {
	me.calls.Add(1)
	if me.shouldError {
		return nil, ErrMock
	}

	node := *query.PartyA
	var channels []entities.ChannelInfo
	for _, next := range me.edges[node] {
		channels = append(channels, entities.ChannelInfo{PartyA: node, PartyB: next})
	}
	return channels, nil
}

func (me *MockEdgeSource) connected(a, b entities.AccountId) bool {
	for _, next := range me.edges[a] {
		if next == b {
			return true
		}
	}
	return false
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func findGenerator(nodesCount, previous int) int {
	for i := previous + 1; i < nodesCount; i++ {
		if gcd(i, nodesCount) == 1 {
			return i
		}
	}
	return -1
}

func node(i int) entities.AccountId {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], uint64(i))
	hash := entities.Keccak256(seed[:])

	var id entities.AccountId
	copy(id[:], hash[:])
	return id
}

// generateGraph connects node i to i+g for three generators g coprime with
// nodesCount, which yields a strongly connected graph.
func generateGraph(t *testing.T, nodesCount int) ([]entities.AccountId, *MockEdgeSource) {
	nodes := make([]entities.AccountId, nodesCount)
	for i := range nodes {
		nodes[i] = node(i)
	}

	first := findGenerator(nodesCount, 1)
	second := findGenerator(nodesCount, first)
	third := findGenerator(nodesCount, second)
	require.Positive(t, third)

	edges := make(map[entities.AccountId][]entities.AccountId, nodesCount)
	for i := 0; i < nodesCount; i++ {
		edges[nodes[i]] = []entities.AccountId{
			nodes[(i+first)%nodesCount],
			nodes[(i+second)%nodesCount],
			nodes[(i+third)%nodesCount],
		}
	}
	return nodes, &MockEdgeSource{edges: edges}
}

func newTestFinder(t *testing.T, edges EdgeSource) *Finder {
	return NewFinder(edges, metrics.NewMetrics("test", prometheus.NewRegistry()), zaptest.NewLogger(t).Sugar())
}

func assertSimplePath(t *testing.T, path []entities.AccountId, edges *MockEdgeSource) {
	seen := make(map[entities.AccountId]struct{}, len(path))
	for i, n := range path {
		_, dup := seen[n]
		assert.False(t, dup, "node %d repeated", i)
		seen[n] = struct{}{}

		if i > 0 {
			assert.True(t, edges.connected(path[i-1], n), "no edge between hop %d and %d", i-1, i)
		}
	}
}

func TestFinder_FindPathOnGeneratedGraph(t *testing.T) {
	nodes, edges := generateGraph(t, 123)
	finder := newTestFinder(t, edges)

	path, err := finder.FindPath(context.Background(), nodes[0], 29, nil)
	require.NoError(t, err)
	require.Len(t, path, 30)
	assert.Equal(t, nodes[0], path[0])
	assertSimplePath(t, path, edges)

	again, err := finder.FindPath(context.Background(), nodes[0], 29, nil)
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestFinder_FindPathWithFilter(t *testing.T) {
	nodes, edges := generateGraph(t, 123)
	finder := newTestFinder(t, edges)

	excluded := map[entities.AccountId]struct{}{nodes[5]: {}, nodes[10]: {}}
	filter := func(n entities.AccountId) bool {
		_, ok := excluded[n]
		return !ok
	}

	path, err := finder.FindPath(context.Background(), nodes[0], 27, filter)
	require.NoError(t, err)
	require.Len(t, path, 28)
	assertSimplePath(t, path, edges)
	for _, n := range path {
		assert.NotContains(t, excluded, n)
	}
}

func TestFinder_DeadEnds(t *testing.T) {
	start, a, b, c := node(0), node(1), node(2), node(3)
	edges := &MockEdgeSource{edges: map[entities.AccountId][]entities.AccountId{
		start: {b, a},
		b:     {c},
		c:     {start},
	}}
	finder := newTestFinder(t, edges)

	path, err := finder.FindPath(context.Background(), start, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []entities.AccountId{start, b, c}, path)

	// c only leads back to start
	path, err = finder.FindPath(context.Background(), start, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestFinder_EdgeCases(t *testing.T) {
	nodes, edges := generateGraph(t, 7)
	finder := newTestFinder(t, edges)

	path, err := finder.FindPath(context.Background(), nodes[0], 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []entities.AccountId{nodes[0]}, path)
	assert.Zero(t, edges.calls.Load())

	_, err = finder.FindPath(context.Background(), nodes[0], -1, nil)
	assert.ErrorIs(t, err, entities.ErrInvalidValue)

	// a simple path visits at most every node once
	path, err = finder.FindPath(context.Background(), nodes[0], 7, nil)
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = finder.FindPath(context.Background(), nodes[0], 6, nil)
	require.NoError(t, err)
	require.Len(t, path, 7)
	assertSimplePath(t, path, edges)
}

func TestFinder_Errors(t *testing.T) {
	nodes, edges := generateGraph(t, 7)
	finder := newTestFinder(t, edges)

	edges.shouldError = true
	_, err := finder.FindPath(context.Background(), nodes[0], 3, nil)
	assert.ErrorIs(t, err, ErrMock)

	edges.shouldError = false
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = finder.FindPath(ctx, nodes[0], 3, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
