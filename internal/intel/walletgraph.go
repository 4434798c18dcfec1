package intel

import (
	"context"
	"fmt"
	"time"

	"curvewarden/internal/cache"
	"curvewarden/internal/domain"
)

const walletEdgeTTL = 7 * 24 * time.Hour

func outSetKey(node string) string { return fmt.Sprintf("intel:wallet:%s:out", node) }
func inSetKey(node string) string  { return fmt.Sprintf("intel:wallet:%s:in", node) }
func edgeKey(from, to string) string { return fmt.Sprintf("intel:edge:%s:%s", from, to) }

// WalletGraph tracks directed wallet relationships (funding, transfers,
// deployer associations) as an adjacency-set graph for clustering.
type WalletGraph struct {
	cache *cache.Service
}

// NewWalletGraph constructs a WalletGraph.
func NewWalletGraph(c *cache.Service) *WalletGraph {
	return &WalletGraph{cache: c}
}

// AddEdge upserts a directed (from,to) edge, bumping lastSeen/txCount and
// maintaining out/in adjacency sets, all under a 7-day TTL.
func (g *WalletGraph) AddEdge(ctx context.Context, from, to string, edgeType domain.WalletEdgeType) error {
	key := edgeKey(from, to)
	edge := domain.WalletEdge{From: from, To: to, Type: edgeType, FirstSeen: time.Now(), LastSeen: time.Now(), TxCount: 1}

	var existing domain.WalletEdge
	if err := g.cache.GetJSON(ctx, key, &existing); err == nil {
		edge.FirstSeen = existing.FirstSeen
		edge.TxCount = existing.TxCount + 1
	}

	if err := g.cache.SetJSON(ctx, key, edge, walletEdgeTTL); err != nil {
		return err
	}
	if err := g.cache.SAdd(ctx, outSetKey(from), walletEdgeTTL, to); err != nil {
		return err
	}
	return g.cache.SAdd(ctx, inSetKey(to), walletEdgeTTL, from)
}

func (g *WalletGraph) neighbors(ctx context.Context, node string) ([]string, error) {
	out, err := g.cache.SMembers(ctx, outSetKey(node))
	if err != nil {
		return nil, err
	}
	in, err := g.cache.SMembers(ctx, inSetKey(node))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(out)+len(in))
	merged := make([]string, 0, len(out)+len(in))
	for _, n := range append(out, in...) {
		if !seen[n] {
			seen[n] = true
			merged = append(merged, n)
		}
	}
	return merged, nil
}

// GetCluster runs an iterative BFS over out(node) ∪ in(node) up to
// maxDepth hops, excluding root from the result.
func (g *WalletGraph) GetCluster(ctx context.Context, root string, maxDepth int) ([]string, error) {
	visited := map[string]bool{root: true}
	queue := []string{root}
	depth := map[string]int{root: 0}
	var result []string

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if depth[node] >= maxDepth {
			continue
		}

		neighbors, err := g.neighbors(ctx, node)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if visited[n] {
				continue
			}
			visited[n] = true
			depth[n] = depth[node] + 1
			result = append(result, n)
			queue = append(queue, n)
		}
	}
	return result, nil
}

// AreConnected reports whether b is within maxDepth hops of a.
func (g *WalletGraph) AreConnected(ctx context.Context, a, b string, maxDepth int) (bool, error) {
	cluster, err := g.GetCluster(ctx, a, maxDepth)
	if err != nil {
		return false, err
	}
	for _, n := range cluster {
		if n == b {
			return true, nil
		}
	}
	return false, nil
}
