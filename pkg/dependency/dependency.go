// Copyright 2025 Certen Protocol
//
// Dependency Resolver - Topological Ordering of Artifact Batches
// A dependency is satisfied if the referenced id or content hash is already
// committed to the chain or present elsewhere in the same batch. Artifacts
// are represented as an arena (id -> artifact) plus index-based edges,
// never mutable cross-links, so the graph carries no lifetime entanglement.

package dependency

import (
	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/ledger"
)

// Missing describes one unresolved dependency reference.
type Missing struct {
	ArtifactID string
	DepRef     string
	Required   bool
}

// CheckResult is the outcome of Check.
type CheckResult struct {
	Satisfied   bool
	Missing     []Missing
	Suggestions []string
}

// OrderResult is the outcome of Order.
type OrderResult struct {
	Order        []string   // flat topological order, ties broken by input order
	Batches      [][]string // batches[k]: artifacts whose longest path to a leaf is k
	Unresolvable []string   // artifact ids that could not be placed (cycle or missing required dep)
}

// Resolver orders artifact batches against a chain's committed index.
type Resolver struct {
	chain *chain.Chain
}

// New constructs a Resolver bound to chain c.
func New(c *chain.Chain) *Resolver {
	return &Resolver{chain: c}
}

// satisfied reports whether ref (an id or a content hash) resolves to
// something already committed or present in the batch arena.
func (r *Resolver) satisfied(ref string, arena map[string]*ledger.Artifact) bool {
	if _, ok := arena[ref]; ok {
		return true
	}
	if r.chain.Committed(ref) {
		return true
	}
	if _, _, ok := r.chain.FindArtifact(ref); ok {
		return true
	}
	return false
}

// Check reports whether every dependency in batch resolves, without
// ordering it.
func (r *Resolver) Check(batch []*ledger.Artifact) CheckResult {
	arena := arenaOf(batch)

	var res CheckResult
	res.Satisfied = true
	for _, a := range batch {
		for _, dep := range a.Dependencies {
			if !r.satisfied(dep, arena) {
				res.Satisfied = false
				res.Missing = append(res.Missing, Missing{ArtifactID: a.ID, DepRef: dep, Required: true})
				res.Suggestions = append(res.Suggestions, "commit or include artifact/content-hash "+dep+" before "+a.ID)
			}
		}
	}
	return res
}

// Order topologically sorts batch via Kahn's algorithm; ties are broken by
// input order. With allowPartial true, unresolvable artifacts are excluded
// and the rest is ordered and batched; with allowPartial false, any
// unresolvable artifact makes the result carry only Unresolvable, with an
// empty Order and no Batches.
func (r *Resolver) Order(batch []*ledger.Artifact, allowPartial bool) OrderResult {
	arena := arenaOf(batch)
	inputIndex := make(map[string]int, len(batch))
	for i, a := range batch {
		inputIndex[a.ID] = i
	}

	// edges: dependent -> prerequisite (in-batch only; already-committed deps
	// are satisfied a priori and don't constrain ordering).
	inDegree := make(map[string]int, len(batch))
	dependents := make(map[string][]string) // prerequisite id -> dependents
	unresolvableSet := make(map[string]bool)

	for _, a := range batch {
		inDegree[a.ID] = 0
	}

	for _, a := range batch {
		for _, dep := range a.Dependencies {
			if prereq, ok := arena[dep]; ok {
				inDegree[a.ID]++
				dependents[prereq.ID] = append(dependents[prereq.ID], a.ID)
			} else if !r.satisfied(dep, arena) {
				unresolvableSet[a.ID] = true
			}
		}
	}

	var queue []string
	for _, a := range batch {
		if inDegree[a.ID] == 0 && !unresolvableSet[a.ID] {
			queue = append(queue, a.ID)
		}
	}
	sortByInputOrder(queue, inputIndex)

	var order []string
	longestPath := make(map[string]int)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var next []string
		for _, dep := range dependents[id] {
			if lp := longestPath[id] + 1; lp > longestPath[dep] {
				longestPath[dep] = lp
			}
			inDegree[dep]--
			if inDegree[dep] == 0 && !unresolvableSet[dep] {
				next = append(next, dep)
			}
		}
		sortByInputOrder(next, inputIndex)
		queue = append(queue, next...)
		sortByInputOrder(queue, inputIndex)
	}

	// Anything left with nonzero in-degree is part of a cycle or depends,
	// directly or transitively, on an unresolvable artifact.
	for _, a := range batch {
		if inDegree[a.ID] > 0 {
			unresolvableSet[a.ID] = true
		}
	}

	var unresolvable []string
	for _, a := range batch {
		if unresolvableSet[a.ID] {
			unresolvable = append(unresolvable, a.ID)
		}
	}
	sortByInputOrder(unresolvable, inputIndex)

	if len(unresolvable) > 0 && !allowPartial {
		return OrderResult{Unresolvable: unresolvable}
	}

	maxDepth := 0
	for _, id := range order {
		if longestPath[id] > maxDepth {
			maxDepth = longestPath[id]
		}
	}
	batches := make([][]string, maxDepth+1)
	for _, id := range order {
		d := longestPath[id]
		batches[d] = append(batches[d], id)
	}

	return OrderResult{Order: order, Batches: batches, Unresolvable: unresolvable}
}

func arenaOf(batch []*ledger.Artifact) map[string]*ledger.Artifact {
	arena := make(map[string]*ledger.Artifact, len(batch))
	for _, a := range batch {
		arena[a.ID] = a
		if a.ContentHash != "" {
			arena[a.ContentHash] = a
		}
	}
	return arena
}

func sortByInputOrder(ids []string, inputIndex map[string]int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && inputIndex[ids[j]] < inputIndex[ids[j-1]]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
