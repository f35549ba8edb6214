package routing

import (
	"sort"
	"time"

	"github.com/RyanCarrier/dijkstra"

	"github.com/d3tn/bpnode/internal/bpv7"
)

// ROUTER_MAX_FRAGMENTS bounds how many (contact, size) pairs route() may
// return for a single bundle (spec §4.3).
const RouterMaxFragments = 3

// defaultFragmentMinPayload is the default for Router.FragmentMinPayload, the
// smallest payload slice the router will pack into a fragment, except for the
// final one.
const defaultFragmentMinPayload = 64

// FragmentRoute assigns size bytes of the bundle (or the whole bundle, if it
// is the only fragment) to Contact.
type FragmentRoute struct {
	Size               int64
	Contact            *Contact
	PreemptionImproved bool
}

// Result is the router's decision for one bundle.
type Result struct {
	Fragments          []FragmentRoute
	PreemptionImproved bool
}

// Failure enumerates the router's terminal failure modes (spec §4.3).
type Failure string

const (
	FailureNoRoute       Failure = "NO_ROUTE"
	FailureBundleTooLarge Failure = "BUNDLE_TOO_LARGE"
	FailureFragmentLimit Failure = "FRAGMENT_LIMIT"
	FailureExpired       Failure = "EXPIRED"
)

func (f Failure) Error() string { return string(f) }

// Scheduled is a bundle already reserved on a contact, tracked so preemption
// can find and evict lower-priority victims.
type Scheduled struct {
	BundleID bpv7.BundleID
	Priority Priority
	Size     int64
	Contact  *Contact
}

// Router resolves destinations to contacts over a Table. Per spec §5, this
// router is called only from the bundle processor's single goroutine —
// router calls are synchronous from the processor — so its schedule map
// needs no locking; Table and Contact take their own locks because the
// contact manager reads them from its goroutine too.
type Router struct {
	table              *Table
	FragmentMinPayload int64

	scheduled map[bpv7.BundleID]*Scheduled
}

// NewRouter creates a Router over the given table.
func NewRouter(table *Table) *Router {
	return &Router{
		table:              table,
		FragmentMinPayload: defaultFragmentMinPayload,
		scheduled:          make(map[bpv7.BundleID]*Scheduled),
	}
}

// Route resolves destination and size for a bundle (spec §4.3). size is the
// serialized bundle size; priority its routing priority class; expiry its
// absolute lifetime deadline.
func (r *Router) Route(id bpv7.BundleID, destination bpv7.EndpointID, size int64, priority Priority, expiry time.Time) (Result, error) {
	if time.Now().After(expiry) {
		return Result{}, FailureExpired
	}

	candidates := r.candidateContacts(destination, expiry)
	if len(candidates) == 0 {
		return Result{}, FailureNoRoute
	}

	// step 2: single contact with enough capacity
	for _, c := range candidates {
		if c.Remaining(priority) >= size {
			if !c.Reserve(priority, size) {
				continue
			}
			r.recordSchedule(id, priority, size, c)
			return Result{Fragments: []FragmentRoute{{Size: size, Contact: c}}}, nil
		}
	}

	// step 3: fragment-pack greedily in earliest-start order
	if result, ok := r.packFragments(id, candidates, size, priority); ok {
		return result, nil
	}

	// step 4: attempt preemption of lower-priority bundles
	if result, improved, ok := r.tryPreemption(id, candidates, size, priority); ok {
		result.PreemptionImproved = improved
		return result, nil
	}

	var total int64
	for _, c := range candidates {
		total += c.Remaining(priority)
	}
	if total < size {
		return Result{}, FailureBundleTooLarge
	}
	return Result{}, FailureFragmentLimit
}

// TryReuse rebinds a bundle to a previously chosen route, skipping full
// recomputation when no contact in prev has ended yet; remaining capacity
// is not re-checked. Falls back to Route when a contact has ended.
func (r *Router) TryReuse(prev Result, id bpv7.BundleID, destination bpv7.EndpointID, size int64, priority Priority, expiry time.Time) (Result, error) {
	now := time.Now()
	for _, f := range prev.Fragments {
		if f.Contact.End.Before(now) {
			return r.Route(id, destination, size, priority, expiry)
		}
	}
	return prev, nil
}

// candidateContacts looks up direct contacts to destination's node, falling
// back to a Dijkstra search over the time-expanded contact graph (edge
// weight = contact start time) to rank multi-hop candidates when no direct
// contact exists.
func (r *Router) candidateContacts(destination bpv7.EndpointID, expiry time.Time) []*Contact {
	direct := r.table.ContactsTo(destination, expiry)
	if len(direct) > 0 {
		sortByTieBreak(direct)
		return direct
	}
	return r.multiHopCandidates(destination, expiry)
}

// multiHopCandidates builds a graph where every node is a vertex and every
// contact an edge weighted by its start offset, then runs Dijkstra from
// every node that has at least one contact to find which first-hop contact
// lies on the shortest path toward a node serving destination's prefix.
func (r *Router) multiHopCandidates(destination bpv7.EndpointID, expiry time.Time) []*Contact {
	nodes := r.table.AllNodes()
	if len(nodes) == 0 {
		return nil
	}

	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.EID.String()] = i
	}

	graph := dijkstra.NewGraph()
	for i := range nodes {
		graph.AddVertex(i)
	}

	type edgeRef struct {
		from, to int
		contact  *Contact
	}
	var edges []edgeRef

	for i, n := range nodes {
		for _, c := range n.Contacts {
			if !c.Start.Before(expiry) {
				continue
			}
			j, ok := index[c.Neighbor.String()]
			if !ok {
				continue
			}
			weight := int64(c.Start.Sub(time_Epoch()).Seconds())
			if weight < 0 {
				weight = 0
			}
			_ = graph.AddArc(i, j, weight)
			edges = append(edges, edgeRef{from: i, to: j, contact: c})
		}
	}

	var destNodeIdx = -1
	for i, n := range nodes {
		if n.EID.SameNode(destination) {
			destNodeIdx = i
			continue
		}
		for _, served := range n.Serves {
			if served.SameNode(destination) {
				destNodeIdx = i
			}
		}
	}
	if destNodeIdx < 0 {
		return nil
	}

	var out []*Contact
	for srcIdx := range nodes {
		if srcIdx == destNodeIdx {
			continue
		}
		best, err := graph.Shortest(srcIdx, destNodeIdx)
		if err != nil || len(best.Path) < 2 {
			continue
		}
		first := best.Path[1]
		for _, e := range edges {
			if e.from == best.Path[0] && e.to == first {
				out = append(out, e.contact)
			}
		}
	}

	sortByTieBreak(out)
	return out
}

// time_Epoch is split out so multiHopCandidates reads as graph-construction
// logic rather than a raw time.Time{} literal.
func time_Epoch() time.Time { return time.Unix(0, 0) }

// sortByTieBreak orders candidates per spec §4.3 step 5: earlier start,
// then higher bitrate, then lexicographic node ID.
func sortByTieBreak(cs []*Contact) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].Start.Equal(cs[j].Start) {
			return cs[i].Start.Before(cs[j].Start)
		}
		if cs[i].BitrateBps != cs[j].BitrateBps {
			return cs[i].BitrateBps > cs[j].BitrateBps
		}
		return cs[i].Neighbor.String() < cs[j].Neighbor.String()
	})
}

func (r *Router) recordSchedule(id bpv7.BundleID, p Priority, size int64, c *Contact) {
	r.scheduled[id] = &Scheduled{BundleID: id, Priority: p, Size: size, Contact: c}
}

// packFragments greedily packs remaining_bundle_bytes into candidates in
// earliest-start order, each fragment sized min(contact.remaining, left)
// but no less than FragmentMinPayload except the final fragment.
func (r *Router) packFragments(id bpv7.BundleID, candidates []*Contact, size int64, priority Priority) (Result, bool) {
	var fragments []FragmentRoute
	var reserved []FragmentRoute
	left := size

	rollback := func() {
		for _, f := range reserved {
			f.Contact.Release(priority, f.Size)
		}
	}

	for _, c := range candidates {
		if left <= 0 {
			break
		}
		if len(fragments) >= RouterMaxFragments {
			rollback()
			return Result{}, false
		}

		avail := c.Remaining(priority)
		if avail <= 0 {
			continue
		}

		chunk := avail
		if chunk > left {
			chunk = left
		}
		if left-chunk > 0 && chunk < r.FragmentMinPayload {
			continue
		}

		if !c.Reserve(priority, chunk) {
			continue
		}
		fr := FragmentRoute{Size: chunk, Contact: c}
		fragments = append(fragments, fr)
		reserved = append(reserved, fr)
		left -= chunk
	}

	if left > 0 {
		rollback()
		return Result{}, false
	}

	for i, f := range fragments {
		r.recordSchedule(bpv7.BundleID(uint64(id)+uint64(i)), priority, f.Size, f.Contact)
	}
	return Result{Fragments: fragments}, true
}

// tryPreemption looks for lower-priority bundles already scheduled on the
// candidate contacts whose eviction would free enough capacity to pack the
// new bundle, per step 4. Evicted bundles have their reservations released
// and their schedule records dropped; their ids are not reported to the
// caller, and the bundle processor is not told of the eviction.
func (r *Router) tryPreemption(id bpv7.BundleID, candidates []*Contact, size int64, priority Priority) (Result, bool, bool) {
	var victims []*Scheduled
	var freed int64

	for _, sched := range r.scheduled {
		if sched.Priority >= priority {
			continue
		}
		for _, c := range candidates {
			if sched.Contact == c {
				victims = append(victims, sched)
				freed += sched.Size
			}
		}
		if freed >= size {
			break
		}
	}

	if freed < size {
		return Result{}, false, false
	}

	for _, v := range victims {
		v.Contact.Release(v.Priority, v.Size)
		delete(r.scheduled, v.BundleID)
	}

	result, ok := r.packFragments(id, candidates, size, priority)
	return result, true, ok
}

// CancelSchedule releases the capacity reserved for id and forgets its
// schedule record; the processor calls it before re-routing on
// TRANSMISSION_FAILURE. Only the record stored under id itself is released.
func (r *Router) CancelSchedule(id bpv7.BundleID) {
	if s, ok := r.scheduled[id]; ok {
		s.Contact.Release(s.Priority, s.Size)
		delete(r.scheduled, id)
	}
}
