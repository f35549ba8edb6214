package agent

import (
	"encoding/json"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"

	"github.com/d3tn/bpnode/internal/bpv7"
)

// RestAgent is a RESTful application agent bound to a single sink EID: bundles
// delivered to that sink queue up in an in-memory mailbox for a client to
// fetch, and a client can POST a payload to have it wrapped in a new bundle
// and forwarded via Send.
//
// Grounded on agent/rest_agent.go (dtn7-go)'s /fetch + /build HTTP
// conversation, collapsed from that file's multi-client UUID registry to a
// single mailbox per sink since this module's Agent interface binds one sink
// per agent instance rather than letting a client register arbitrary EIDs.
type RestAgent struct {
	sink bpv7.EndpointID

	Lifetime uint64 // ms, used for bundles built via /send
	Send     func(b *bpv7.Bundle)

	mu      sync.Mutex
	mailbox []*bpv7.Bundle
}

type restFetchResponse struct {
	Error   string          `json:"error"`
	Bundles []restBundleDTO `json:"bundles"`
}

type restBundleDTO struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Payload     []byte `json:"payload"`
}

type restSendRequest struct {
	Destination string `json:"destination"`
	Payload     []byte `json:"payload"`
}

type restSendResponse struct {
	Error string `json:"error"`
}

// NewRestAgent registers /fetch and /send handlers under router for sink, and
// returns the agent so the caller can register it with an agent.Registry.
func NewRestAgent(router *mux.Router, sink bpv7.EndpointID, send func(b *bpv7.Bundle)) *RestAgent {
	ra := &RestAgent{sink: sink, Lifetime: 24 * 60 * 60 * 1000, Send: send}

	sub := router.PathPrefix("/agent/" + sink.Path()).Subrouter()
	sub.HandleFunc("/fetch", ra.handleFetch).Methods(http.MethodPost)
	sub.HandleFunc("/send", ra.handleSend).Methods(http.MethodPost)

	return ra
}

func (ra *RestAgent) Sink() bpv7.EndpointID { return ra.sink }

func (ra *RestAgent) Deliver(b *bpv7.Bundle) {
	ra.mu.Lock()
	ra.mailbox = append(ra.mailbox, b)
	ra.mu.Unlock()

	log.WithField("bundle", b.ID().String()).Debug("rest agent: queued bundle in mailbox")
}

func (ra *RestAgent) Close() {}

func (ra *RestAgent) handleFetch(w http.ResponseWriter, r *http.Request) {
	ra.mu.Lock()
	pending := ra.mailbox
	ra.mailbox = nil
	ra.mu.Unlock()

	dtos := make([]restBundleDTO, 0, len(pending))
	for _, b := range pending {
		cb, err := b.PayloadBlock()
		if err != nil {
			continue
		}
		pb, ok := cb.Value.(*bpv7.PayloadBlock)
		if !ok {
			continue
		}
		dtos = append(dtos, restBundleDTO{
			Source:      b.PrimaryBlock.SourceNode.String(),
			Destination: b.PrimaryBlock.Destination.String(),
			Payload:     pb.Data(),
		})
	}

	writeJSON(w, restFetchResponse{Bundles: dtos})
}

func (ra *RestAgent) handleSend(w http.ResponseWriter, r *http.Request) {
	var req restSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, restSendResponse{Error: err.Error()})
		return
	}

	dst, err := bpv7.NewEndpointID(req.Destination)
	if err != nil {
		writeJSON(w, restSendResponse{Error: err.Error()})
		return
	}

	ts := bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 0)
	primary := bpv7.NewPrimaryBlock(0, dst, ra.sink, ts, ra.Lifetime)
	payload := bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock(req.Payload))

	b, err := bpv7.NewBundle(primary, []bpv7.CanonicalBlock{payload})
	if err != nil {
		writeJSON(w, restSendResponse{Error: err.Error()})
		return
	}

	ra.Send(&b)
	writeJSON(w, restSendResponse{})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("rest agent: failed writing response")
	}
}
