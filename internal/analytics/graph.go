package analytics

import (
	"gonum.org/v1/gonum/graph/simple"
)

// AccountKey is the graph node key of a payer identifier.
func AccountKey(identifier string) string {
	return "u:" + identifier
}

// MerchantKey is the graph node key of a merchant. Empty merchants share
// the "unknown" node.
func MerchantKey(merchant string) string {
	if merchant == "" {
		merchant = "unknown"
	}
	return "m:" + merchant
}

// bipartite is an account-merchant graph with string-keyed nodes. It is
// only mutated while a snapshot is being built.
type bipartite struct {
	g   *simple.UndirectedGraph
	ids map[string]int64
}

func newBipartite() *bipartite {
	return &bipartite{
		g:   simple.NewUndirectedGraph(),
		ids: make(map[string]int64),
	}
}

func (b *bipartite) node(key string) int64 {
	if id, ok := b.ids[key]; ok {
		return id
	}
	n := b.g.NewNode()
	b.g.AddNode(n)
	b.ids[key] = n.ID()
	return n.ID()
}

// link connects an account to a merchant. Repeated links are a no-op.
func (b *bipartite) link(accountKey, merchantKey string) {
	u := b.g.Node(b.node(accountKey))
	v := b.g.Node(b.node(merchantKey))
	b.g.SetEdge(b.g.NewEdge(u, v))
}

// degree returns the number of distinct neighbours of key, 0 when unknown.
func (b *bipartite) degree(key string) int {
	id, ok := b.ids[key]
	if !ok {
		return 0
	}
	return b.g.From(id).Len()
}

func (b *bipartite) nodes() int { return b.g.Nodes().Len() }

func (b *bipartite) edges() int { return b.g.Edges().Len() }
