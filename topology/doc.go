// Package topology builds processing graphs for stream pipelines.
//
// A Builder opens source streams on topic patterns, chains stateless
// processors (Map, Peek), joins two streams over a time window, and ends in a
// Foreach sink. Build validates the graph and returns a Topology that the
// engine feeds one message at a time per source.
//
//	b := topology.NewBuilder()
//	s := b.Stream("orders", "orders-.*")
//	s.Map("normalize", normalize).Foreach("handler", handle)
//	topo, err := b.Build()
//
// Joins match records by key. Each side keeps the records of the last window
// and evicts them as stream time, the largest timestamp seen by the join,
// moves past ts+window. Left and outer joins emit unmatched records on
// eviction with a nil partner. Records without a key never join.
package topology
