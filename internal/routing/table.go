// Package routing implements the contact-graph routing table and router:
// scheduled contacts to neighboring nodes, and the algorithm that resolves
// a destination endpoint to one or more (contact, fragment size) pairs.
//
// Grounded on core/routing.go (dtn7-go) and
// original_source/include/ud3tn/router.h (router_get_first_route,
// router_try_reuse, router_add_bundle_to_contact).
package routing

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/d3tn/bpnode/internal/bpv7"
)

// Priority mirrors the bundle's routing priority class: bulk, normal,
// expedited, in increasing precedence (spec §3, Contact).
type Priority int

const (
	PriorityBulk Priority = iota
	PriorityNormal
	PriorityExpedited

	priorityCount = int(PriorityExpedited) + 1
)

// Contact is a scheduled, unidirectional communication opportunity with a
// neighbor.
type Contact struct {
	Neighbor   bpv7.EndpointID
	CLAAddress string
	Start      time.Time
	End        time.Time
	BitrateBps uint64

	mu        sync.Mutex
	remaining [priorityCount]int64 // bytes, per priority class
}

// NewContact creates a Contact with remaining capacity at every priority
// initialized to the nominal capacity (bitrate × duration).
func NewContact(neighbor bpv7.EndpointID, claAddress string, start, end time.Time, bitrateBps uint64) *Contact {
	c := &Contact{Neighbor: neighbor, CLAAddress: claAddress, Start: start, End: end, BitrateBps: bitrateBps}
	nominal := c.NominalCapacity()
	for p := range c.remaining {
		c.remaining[p] = nominal
	}
	return c
}

// NominalCapacity is bitrate × duration, in bytes.
func (c *Contact) NominalCapacity() int64 {
	bits := float64(c.BitrateBps) * c.End.Sub(c.Start).Seconds()
	return int64(bits / 8)
}

// Remaining returns the remaining capacity at priority p: nominal minus the
// bytes reserved at priority p or higher, so remaining[p-1] ≤ remaining[p] ≤
// nominal — higher-priority bundles may reserve capacity lower-priority ones
// may not, so reserving at priority p also debits every lower priority's
// budget. Reserve checks only the budget at p, so a lower class's budget can
// drop below zero.
func (c *Contact) Remaining(p Priority) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining[p]
}

// Reserve debits size bytes from priority p and every lower priority class.
// Returns false (no-op) if insufficient capacity remains at p.
func (c *Contact) Reserve(p Priority, size int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remaining[p] < size {
		return false
	}
	for q := 0; q <= int(p); q++ {
		c.remaining[q] -= size
	}
	return true
}

// Release re-credits size bytes on transmission failure, the inverse of
// Reserve.
func (c *Contact) Release(p Priority, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for q := 0; q <= int(p); q++ {
		c.remaining[q] += size
	}
}

func (c *Contact) String() string {
	return fmt.Sprintf("contact(%s@%s %s-%s)", c.Neighbor, c.CLAAddress, c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
}

// Node is a neighbor record: its EID, the EID prefixes it serves (for
// multi-hop candidate lookup), and its scheduled future contacts.
type Node struct {
	EID      bpv7.EndpointID
	Serves   []bpv7.EndpointID
	Contacts []*Contact
}

// Table is a mapping node_eid -> Node plus a time-ordered index of all
// contacts. GlobalMBSoftCap holds the configured global backlog cap in
// bytes; nothing in this package checks scheduled bytes against it.
type Table struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	byStart  []*Contact // kept sorted by Start
	GlobalMBSoftCap int64
	scheduledBytes  int64
}

// NewTable creates an empty routing table, recording the given global soft
// backlog cap in megabytes (0 = unbounded) as GlobalMBSoftCap; the cap is
// stored, not enforced.
func NewTable(globalMBs int64) *Table {
	return &Table{
		nodes:           make(map[string]*Node),
		GlobalMBSoftCap: globalMBs * 1_000_000,
	}
}

// AddContact inserts a contact for neighbor, keeping the per-neighbor and
// global indices ordered by start time. O(log n) via binary-search insert.
func (t *Table) AddContact(c *Contact) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := c.Neighbor.String()
	n, ok := t.nodes[key]
	if !ok {
		n = &Node{EID: c.Neighbor}
		t.nodes[key] = n
	}
	n.Contacts = insertSorted(n.Contacts, c)
	t.byStart = insertSorted(t.byStart, c)
}

// RemoveContact removes a previously added contact.
func (t *Table) RemoveContact(c *Contact) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := c.Neighbor.String()
	if n, ok := t.nodes[key]; ok {
		n.Contacts = removeContact(n.Contacts, c)
	}
	t.byStart = removeContact(t.byStart, c)
}

// Reset clears every node and contact — the config agent's
// reset-routing-table command.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = make(map[string]*Node)
	t.byStart = nil
}

// ContactsTo returns the neighbor's scheduled contacts starting before
// expiry, in earliest-start order.
func (t *Table) ContactsTo(node bpv7.EndpointID, expiry time.Time) []*Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[node.NodeID().String()]
	if !ok {
		n, ok = t.nodes[node.String()]
		if !ok {
			return nil
		}
	}

	var out []*Contact
	for _, c := range n.Contacts {
		if c.Start.Before(expiry) {
			out = append(out, c)
		}
	}
	return out
}

// AllNodes returns every known node, for multi-hop candidate discovery.
func (t *Table) AllNodes() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

func insertSorted(cs []*Contact, c *Contact) []*Contact {
	i := sort.Search(len(cs), func(i int) bool { return cs[i].Start.After(c.Start) })
	cs = append(cs, nil)
	copy(cs[i+1:], cs[i:])
	cs[i] = c
	return cs
}

func removeContact(cs []*Contact, target *Contact) []*Contact {
	for i, c := range cs {
		if c == target {
			return append(cs[:i], cs[i+1:]...)
		}
	}
	return cs
}
