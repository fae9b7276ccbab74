// Package causal implements the hybrid-clock total order used whenever
// events from different devices must be arranged semantically: conflict
// resolution during sync, order-sensitive projections, and audit views.
//
// The order is defined by six rules, first difference wins:
//
//  1. Same stream: lower aggregate_version first.
//  2. Causation: an event precedes everything it (transitively) caused.
//  3. Same device: lower local_sequence_number first.
//  4. Ascending occurred_at adjusted for device clock drift.
//  5. Ascending recorded_at.
//  6. Ascending event_id (time-sortable, deterministic tiebreak).
//
// Rules 1–3 are hard constraints; 4–6 arrange events the constraints leave
// free. The result is deterministic for any permutation of the input.
package causal

import (
	"fmt"
	"sort"

	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

// CycleError reports a causation chain that contradicts stream or device
// order — an event claiming to be caused by a later event. This is a
// data-integrity violation surfaced to the compensation engine, never
// resolved silently.
type CycleError struct {
	EventIDs []domain.EventID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("causal ordering cycle involving %d events (first: %s)",
		len(e.EventIDs), e.EventIDs[0].String())
}

// Order arranges the given events into the hybrid-clock total order. The
// input is not modified. Deterministic: Order(S) == Order(shuffle(S)).
func Order(events []event.Envelope) ([]event.Envelope, error) {
	n := len(events)
	if n <= 1 {
		return append([]event.Envelope{}, events...), nil
	}

	// Work on a copy pre-sorted by the free-order comparator so the
	// constraint graph and the ready-set scan are input-order independent.
	sorted := append([]event.Envelope{}, events...)
	sort.SliceStable(sorted, func(i, j int) bool { return freeLess(sorted[i], sorted[j]) })

	index := make(map[domain.EventID]int, n)
	for i, e := range sorted {
		index[e.EventID] = i
	}

	// Hard constraint edges: from → to means "from precedes to".
	succ := make([][]int, n)
	indegree := make([]int, n)
	addEdge := func(from, to int) {
		succ[from] = append(succ[from], to)
		indegree[to]++
	}

	// Rule 1: stream version order. Rule 3: device LSN order.
	byStream := map[string][]int{}
	byDevice := map[string][]int{}
	for i, e := range sorted {
		sk := string(e.AggregateType) + "/" + e.AggregateID.String()
		byStream[sk] = append(byStream[sk], i)
		byDevice[e.DeviceID] = append(byDevice[e.DeviceID], i)
	}
	for _, members := range byStream {
		chainEdges(sorted, members, addEdge, func(e event.Envelope) uint64 { return e.AggregateVersion })
	}
	for _, members := range byDevice {
		chainEdges(sorted, members, addEdge, func(e event.Envelope) uint64 { return e.LocalSequenceNumber })
	}

	// Rule 2: causation ancestry, only for ancestors present in the set.
	for i, e := range sorted {
		if e.CausationID.IsNil() {
			continue
		}
		if parent, ok := index[e.CausationID]; ok {
			addEdge(parent, i)
		}
	}

	// Kahn's algorithm; among ready nodes always take the lowest free-order
	// index, which is exactly the rules 4–6 preference.
	out := make([]event.Envelope, 0, n)
	done := make([]bool, n)
	for len(out) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			var cycle []domain.EventID
			for i := 0; i < n; i++ {
				if !done[i] {
					cycle = append(cycle, sorted[i].EventID)
				}
			}
			return nil, &CycleError{EventIDs: cycle}
		}
		done[next] = true
		out = append(out, sorted[next])
		for _, s := range succ[next] {
			indegree[s]--
		}
	}
	return out, nil
}

// chainEdges links members in ascending key order: each event must follow
// every event with a strictly smaller key in the same stream or device
// sequence. Equal keys — two events contesting the same version — are
// deliberately left unconstrained so the free-order rules decide.
func chainEdges(events []event.Envelope, members []int, addEdge func(from, to int), key func(event.Envelope) uint64) {
	ordered := append([]int{}, members...)
	sort.SliceStable(ordered, func(a, b int) bool {
		return key(events[ordered[a]]) < key(events[ordered[b]])
	})
	groupStart := 0
	for i := 1; i <= len(ordered); i++ {
		if i < len(ordered) && key(events[ordered[i]]) == key(events[ordered[groupStart]]) {
			continue
		}
		// ordered[groupStart:i] share a key; the next group starts at i.
		if i < len(ordered) {
			nextEnd := i + 1
			for nextEnd < len(ordered) && key(events[ordered[nextEnd]]) == key(events[ordered[i]]) {
				nextEnd++
			}
			for _, from := range ordered[groupStart:i] {
				for _, to := range ordered[i:nextEnd] {
					addEdge(from, to)
				}
			}
		}
		groupStart = i
	}
}

// freeLess is the total order applied where the hard constraints leave
// events unordered: drift-adjusted occurred_at, then recorded_at, then
// event_id.
func freeLess(a, b event.Envelope) bool {
	at, bt := a.AdjustedOccurredAt(), b.AdjustedOccurredAt()
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.Before(b.RecordedAt)
	}
	return a.EventID.String() < b.EventID.String()
}
