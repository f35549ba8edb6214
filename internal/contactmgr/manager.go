package contactmgr

import (
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/d3tn/bpnode/internal/cla"
	"github.com/d3tn/bpnode/internal/routing"
)

// defaultQueueDepth bounds each TX engine's FIFO (spec §5).
const defaultQueueDepth = 64

// activeContact pairs an opened link with the TX engine serving it.
type activeContact struct {
	contact *routing.Contact
	sender  cla.ConvergenceSender
	engine  *TXEngine
}

// Manager wakes on contact start/end boundaries, opens and closes CLA links
// accordingly, and spawns or retires a TXEngine per active contact. Grounded
// on core/core.go's handler/cron goroutine pattern and
// original_source/components/cla/cla_contact_tx_task.c's
// cla_launch_contact_tx_task / cla_contact_tx_task lifecycle.
type Manager struct {
	table   *routing.Table
	convergables map[string]cla.Convergable // CLA name -> opener
	results chan Result

	mu     sync.Mutex
	active map[*routing.Contact]*activeContact

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a contact manager over table, dispatching TX results to
// results. claByName maps a CLA implementation name (e.g. "stcp") to the
// Convergable used to open outbound links for it.
func NewManager(table *routing.Table, claByName map[string]cla.Convergable, results chan Result) *Manager {
	return &Manager{
		table:        table,
		convergables: claByName,
		results:      results,
		active:       make(map[*routing.Contact]*activeContact),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run polls for contact boundaries every tick until Stop is called. A real
// deployment could instead compute the next boundary's exact deadline and
// sleep to it; polling keeps this loop simple and matches the teacher's
// cron-style handlers in core/core.go, which also poll on a fixed interval.
func (m *Manager) Run(tick time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			m.closeAll()
			return
		case <-ticker.C:
			m.reconcile(time.Now())
		}
	}
}

// Stop signals Run to finalize every active contact and exit.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

// reconcile opens links for contacts that have started and not yet ended,
// and retires ones whose window has closed.
func (m *Manager) reconcile(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.table.AllNodes() {
		for _, c := range n.Contacts {
			if now.Before(c.Start) || now.After(c.End) {
				continue
			}
			if _, ok := m.active[c]; ok {
				continue
			}
			m.open(c)
		}
	}

	for c, ac := range m.active {
		if now.After(c.End) {
			m.retire(c, ac)
		}
	}
}

func (m *Manager) open(c *routing.Contact) {
	opener, ok := m.pickConvergable(c)
	if !ok {
		log.WithField("contact", c.String()).Warn("contactmgr: no CLA registered for contact")
		return
	}

	address := c.CLAAddress
	if i := strings.Index(address, ":"); i >= 0 {
		address = strings.TrimPrefix(address[i+1:], "//")
	}
	sender, err := opener.Open(address)
	if err != nil {
		log.WithError(err).WithField("contact", c.String()).Warn("contactmgr: failed to open link")
		return
	}

	engine := NewTXEngine(c, sender, defaultQueueDepth, m.results)
	m.active[c] = &activeContact{contact: c, sender: sender, engine: engine}

	log.WithFields(log.Fields{
		"contact": c.String(),
		"cla":     sender.Name(),
	}).Info("contactmgr: contact opened")
}

func (m *Manager) retire(c *routing.Contact, ac *activeContact) {
	ac.engine.Finalize()
	if err := ac.sender.Close(); err != nil {
		log.WithError(err).WithField("contact", c.String()).Warn("contactmgr: error closing link")
	}
	delete(m.active, c)

	log.WithField("contact", c.String()).Info("contactmgr: contact closed")
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c, ac := range m.active {
		m.retire(c, ac)
	}
}

// Send enqueues a bundle for transmission on an already-open contact. It is
// a no-op (and returns false) if the contact has no active link — the
// caller (bundle processor) must have chosen a contact that Route() returned
// and the manager has since opened.
func (m *Manager) Send(c *routing.Contact, cmd Command) bool {
	m.mu.Lock()
	ac, ok := m.active[c]
	m.mu.Unlock()
	if !ok {
		return false
	}
	ac.engine.Enqueue(cmd)
	return true
}

// pickConvergable resolves which Convergable opens links for contact c. CLA
// selection for a contact is carried in its CLAAddress scheme prefix
// ("stcp://...", "rf95://..."), the text before the first ':'; open passes
// the rest of the address, without a leading "//", to the Convergable.
func (m *Manager) pickConvergable(c *routing.Contact) (cla.Convergable, bool) {
	name := schemeOf(c.CLAAddress)
	opener, ok := m.convergables[name]
	return opener, ok
}

func schemeOf(address string) string {
	for i := 0; i < len(address); i++ {
		if address[i] == ':' {
			return address[:i]
		}
	}
	return address
}
