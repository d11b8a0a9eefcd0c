package path

import (
	"container/heap"
	"context"

	"github.com/pkg/errors"
	"github.com/relaynet/channel-bridge/entities"
	"github.com/relaynet/channel-bridge/metrics"
	"go.uber.org/zap"
)

// EdgeSource returns the open channels matching the query. It is read on every
// expansion so concurrent graph changes are observed.
type EdgeSource interface {
	Get(ctx context.Context, query *entities.ChannelQuery) ([]entities.ChannelInfo, error)
}

// Filter reports whether a node may be used as the next hop.
type Filter func(node entities.AccountId) bool

type Finder struct {
	edges   EdgeSource
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

func NewFinder(edges EdgeSource, metrics *metrics.Metrics, logger *zap.SugaredLogger) *Finder {
	return &Finder{edges: edges, metrics: metrics, logger: logger}
}

type step struct {
	node   entities.AccountId
	prev   *step
	length int
	seq    uint64
}

func (s *step) visits(node entities.AccountId) bool {
	for cur := s; cur != nil; cur = cur.prev {
		if cur.node == node {
			return true
		}
	}
	return false
}

func (s *step) path() []entities.AccountId {
	nodes := make([]entities.AccountId, s.length+1)
	for cur := s; cur != nil; cur = cur.prev {
		nodes[cur.length] = cur.node
	}
	return nodes
}

// frontier pops the longest path first and, among equal lengths, the most
// recently pushed one.
type frontier []*step

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].length != f[j].length {
		return f[i].length > f[j].length
	}
	return f[i].seq > f[j].seq
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(*step)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return item
}

// FindPath returns a simple path of exactly targetLength hops starting at
// start, or an empty path if none exists. A nil filter accepts every node.
func (f *Finder) FindPath(ctx context.Context, start entities.AccountId, targetLength int, filter Filter) ([]entities.AccountId, error) {
	if targetLength < 0 {
		return nil, errors.Wrapf(entities.ErrInvalidValue, "target length %d", targetLength)
	}

	found, err := f.search(ctx, start, targetLength, filter)
	switch {
	case err != nil:
		f.metrics.IncPathSearches("error")
		return nil, err
	case len(found) == 0:
		f.metrics.IncPathSearches("not_found")
		f.logger.Debugw("No path found", "start", start.Hex(), "length", targetLength)
	default:
		f.metrics.IncPathSearches("found")
	}
	return found, nil
}

func (f *Finder) search(ctx context.Context, start entities.AccountId, targetLength int, filter Filter) ([]entities.AccountId, error) {
	var seq uint64
	queue := &frontier{{node: start}}
	deadEnds := make(map[entities.AccountId]struct{})

	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := heap.Pop(queue).(*step)
		if current.length == targetLength {
			return current.path(), nil
		}
		if _, ok := deadEnds[current.node]; ok {
			continue
		}

		neighbours, err := f.neighbours(ctx, current.node, filter)
		if err != nil {
			return nil, err
		}
		if len(neighbours) == 0 {
			deadEnds[current.node] = struct{}{}
			continue
		}

		for _, next := range neighbours {
			if _, ok := deadEnds[next]; ok {
				continue
			}
			if current.visits(next) {
				continue
			}
			seq++
			heap.Push(queue, &step{node: next, prev: current, length: current.length + 1, seq: seq})
		}
	}
	return []entities.AccountId{}, nil
}

func (f *Finder) neighbours(ctx context.Context, node entities.AccountId, filter Filter) ([]entities.AccountId, error) {
	channels, err := f.edges.Get(ctx, &entities.ChannelQuery{PartyA: &node})
	if err != nil {
		return nil, errors.Wrapf(err, "getting channels of %s", node.Hex())
	}

	neighbours := make([]entities.AccountId, 0, len(channels))
	for _, channel := range channels {
		next := channel.Counterparty(node)
		if next == node {
			continue
		}
		if filter != nil && !filter(next) {
			continue
		}
		neighbours = append(neighbours, next)
	}
	return neighbours, nil
}
