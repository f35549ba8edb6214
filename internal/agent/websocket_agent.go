package agent

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/d3tn/bpnode/internal/bpv7"
)

// WebsocketAgent is a push-style application agent bound to a single sink:
// every connected websocket client receives every bundle delivered to the
// sink as a JSON frame, and a client can push a JSON frame back to have it
// forwarded as a new outbound bundle.
//
// Grounded on agent/websocket_agent.go (dtn7-go)'s gorilla/websocket
// Upgrader-per-connection shape, generalized from that file's stubbed
// "forward to specific child processes" TODO into an actual fan-out to every
// connected client, since this module's single-sink Agent model has no
// per-client registration step to dispatch against.
type WebsocketAgent struct {
	sink     bpv7.EndpointID
	Lifetime uint64 // ms
	Send     func(b *bpv7.Bundle)

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

type wsFrame struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Payload     []byte `json:"payload"`
}

// NewWebsocketAgent returns an agent whose HandleUpgrade method should be
// wired to an HTTP route (e.g. via gorilla/mux) by the caller.
func NewWebsocketAgent(sink bpv7.EndpointID, send func(b *bpv7.Bundle)) *WebsocketAgent {
	return &WebsocketAgent{
		sink:     sink,
		Lifetime: 24 * 60 * 60 * 1000,
		Send:     send,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

func (w *WebsocketAgent) Sink() bpv7.EndpointID { return w.sink }

func (w *WebsocketAgent) Deliver(b *bpv7.Bundle) {
	cb, err := b.PayloadBlock()
	if err != nil {
		return
	}
	pb, ok := cb.Value.(*bpv7.PayloadBlock)
	if !ok {
		return
	}
	frame := wsFrame{
		Source:      b.PrimaryBlock.SourceNode.String(),
		Destination: b.PrimaryBlock.Destination.String(),
		Payload:     pb.Data(),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for conn := range w.clients {
		if err := conn.WriteJSON(frame); err != nil {
			log.WithError(err).Warn("websocket agent: write failed, dropping client")
			delete(w.clients, conn)
			_ = conn.Close()
		}
	}
}

func (w *WebsocketAgent) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for conn := range w.clients {
		_ = conn.Close()
		delete(w.clients, conn)
	}
}

// HandleUpgrade upgrades an HTTP request to a websocket connection, registers
// it for fan-out, and reads client-sent frames until the connection closes.
func (w *WebsocketAgent) HandleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket agent: upgrade failed")
		return
	}

	w.mu.Lock()
	w.clients[conn] = struct{}{}
	w.mu.Unlock()

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		w.forward(frame)
	}

	w.mu.Lock()
	delete(w.clients, conn)
	w.mu.Unlock()
	_ = conn.Close()
}

func (w *WebsocketAgent) forward(frame wsFrame) {
	dst, err := bpv7.NewEndpointID(frame.Destination)
	if err != nil {
		log.WithError(err).Warn("websocket agent: invalid destination in client frame")
		return
	}

	ts := bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 0)
	primary := bpv7.NewPrimaryBlock(0, dst, w.sink, ts, w.Lifetime)
	payload := bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock(frame.Payload))

	b, err := bpv7.NewBundle(primary, []bpv7.CanonicalBlock{payload})
	if err != nil {
		log.WithError(err).Warn("websocket agent: building outbound bundle failed")
		return
	}
	w.Send(&b)
}
