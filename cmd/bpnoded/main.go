// Command bpnoded wires up a DTN node: codec, router, contact manager,
// bundle processor and application agents, driven by a single TOML
// configuration file.
//
// Grounded on cmd/dtnd/main.go (dtn7-go)'s SIGINT-wait-then-Close shutdown
// shape.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/d3tn/bpnode/internal/agent"
	"github.com/d3tn/bpnode/internal/bpv7"
	"github.com/d3tn/bpnode/internal/cla"
	"github.com/d3tn/bpnode/internal/cla/stcp"
	"github.com/d3tn/bpnode/internal/config"
	"github.com/d3tn/bpnode/internal/contactmgr"
	"github.com/d3tn/bpnode/internal/discovery"
	"github.com/d3tn/bpnode/internal/processor"
	"github.com/d3tn/bpnode/internal/routing"
	"github.com/d3tn/bpnode/internal/store"
)

const (
	signalQueueDepth = 256
	reconcileTick    = 1 * time.Second
)

func waitSigint() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("usage: %s configuration.toml", os.Args[0])
	}

	conf, err := config.Load(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("bpnoded: failed to load configuration")
	}
	conf.ApplyLogging()

	nodeID, err := bpv7.NewEndpointID(conf.Core.NodeID)
	if err != nil {
		log.WithError(err).Fatal("bpnoded: invalid core.node-id")
	}

	table := routing.NewTable(conf.Core.RoutingGlobalMB)
	router := routing.NewRouter(table)
	st := store.New(conf.Core.StoreSoftLimitMB * 1_000_000)
	agents := agent.NewRegistry()

	results := make(chan contactmgr.Result, signalQueueDepth)

	convergables := map[string]cla.Convergable{
		"stcp": stcp.NewConvergable(),
	}
	manager := contactmgr.NewManager(table, convergables, results)

	proc := processor.New(nodeID, table, router, st, manager, agents, signalQueueDepth)

	registerAgents(proc, agents, conf, nodeID)
	startListeners(proc, conf, nodeID)
	webserver := startWebserver(proc, conf, nodeID)

	go proc.Run()
	go manager.Run(reconcileTick)
	go forwardTXResults(proc, results)

	watcher, err := config.WatchFile(os.Args[1], func(reloaded config.Config) {
		reloaded.ApplyLogging()
		log.Info("bpnoded: configuration file changed; logging settings reapplied")
	})
	if err != nil {
		log.WithError(err).Warn("bpnoded: config hot-reload disabled")
	}

	var disco *discovery.Service
	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		interval := conf.Discovery.Interval
		if interval == 0 {
			interval = 10
		}
		disco, err = discovery.Start(nil, interval, conf.Discovery.IPv4, conf.Discovery.IPv6,
			func(ann discovery.Announcement, peerAddr string) {
				log.WithFields(log.Fields{"peer": peerAddr, "endpoint": ann.Endpoint}).Info("bpnoded: discovered peer")
			},
			func(eid bpv7.EndpointID) bool { return nodeID.SameNode(eid) },
		)
		if err != nil {
			log.WithError(err).Warn("bpnoded: discovery disabled")
		}
	}

	log.WithField("node", nodeID).Info("bpnoded: running")
	waitSigint()
	log.Info("bpnoded: shutting down")

	if disco != nil {
		disco.Close()
	}
	if watcher != nil {
		watcher.Close()
	}
	if webserver != nil {
		_ = webserver.Close()
	}
	manager.Stop()
	proc.Stop()
}

// forwardTXResults turns TX engine outcomes into processor signals, closing
// the loop described in spec §4.5's TRANSMISSION_SUCCESS/FAILURE rows.
func forwardTXResults(proc *processor.Processor, results <-chan contactmgr.Result) {
	for r := range results {
		kind := processor.SignalTransmissionSuccess
		if !r.Success {
			kind = processor.SignalTransmissionFailure
		}
		proc.Submit(processor.Signal{Kind: kind, BundleID: r.BundleID})
	}
}

func registerAgents(proc *processor.Processor, agents *agent.Registry, conf config.Config, nodeID bpv7.EndpointID) {
	configSink := bpv7.MustNewEndpointID(nodeID.String() + "/config")
	configAgent := agent.NewConfigAgent(configSink, nodeID.NodeID().String(), conf.Core.AllowRemoteConfig,
		func(payload []byte, source bpv7.EndpointID) {
			cmds, err := config.ParseStatements(payload)
			if err != nil {
				log.WithError(err).Warn("bpnoded: malformed router command")
				return
			}
			for _, cmd := range cmds {
				applyRouterCommand(proc, cmd)
			}
		})
	proc.Submit(processor.Signal{Kind: processor.SignalAgentRegister, Agent: configAgent})

	if conf.Agents.Echo {
		echoSink := bpv7.MustNewEndpointID(nodeID.String() + "/echo")
		echoAgent := agent.NewEchoAgent(echoSink, func(b *bpv7.Bundle) {
			proc.Submit(processor.Signal{Kind: processor.SignalBundleReceived, Bundle: b})
		})
		proc.Submit(processor.Signal{Kind: processor.SignalAgentRegister, Agent: echoAgent})
	}
}

func applyRouterCommand(proc *processor.Processor, cmd config.Command) {
	rc := processor.RouterCommand{}
	switch {
	case cmd.Verb == "RESET":
		rc.Op = processor.RouterOpResetTable
	case cmd.Verb == "ADD" && cmd.Noun == "CONTACT":
		rc.Op = processor.RouterOpAddContact
		rc.Contact = cmd.ToContact()
	case cmd.Verb == "REMOVE" && cmd.Noun == "CONTACT":
		rc.Op = processor.RouterOpRemoveContact
		rc.Contact = cmd.ToContact()
	case cmd.Verb == "UPDATE" && cmd.Noun == "NODE":
		rc.Op = processor.RouterOpUpdateNode
		rc.Node = &routing.Node{EID: cmd.NodeEID}
	default:
		log.WithField("verb", cmd.Verb).Warn("bpnoded: unhandled router command")
		return
	}
	proc.Submit(processor.Signal{Kind: processor.SignalProcessRouterCommand, RouterCommand: rc})
}

// startWebserver wires the REST and/or websocket application agents onto a
// shared gorilla/mux router and starts an http.Server, per spec §4.6's note
// that the webserver-backed agents are an optional deployment surface on top
// of the core's sink-bound Agent model.
func startWebserver(proc *processor.Processor, conf config.Config, nodeID bpv7.EndpointID) *http.Server {
	ws := conf.Agents.Webserver
	if ws.Address == "" || (!ws.Rest && !ws.Websocket) {
		return nil
	}

	router := mux.NewRouter()

	if ws.Rest {
		restSink := bpv7.MustNewEndpointID(nodeID.String() + "/rest")
		restAgent := agent.NewRestAgent(router, restSink, func(b *bpv7.Bundle) {
			proc.Submit(processor.Signal{Kind: processor.SignalBundleReceived, Bundle: b})
		})
		proc.Submit(processor.Signal{Kind: processor.SignalAgentRegister, Agent: restAgent})
	}

	if ws.Websocket {
		wsSink := bpv7.MustNewEndpointID(nodeID.String() + "/ws")
		wsAgent := agent.NewWebsocketAgent(wsSink, func(b *bpv7.Bundle) {
			proc.Submit(processor.Signal{Kind: processor.SignalBundleReceived, Bundle: b})
		})
		router.HandleFunc("/agent"+wsSink.Path()+"/ws", wsAgent.HandleUpgrade)
		proc.Submit(processor.Signal{Kind: processor.SignalAgentRegister, Agent: wsAgent})
	}

	srv := &http.Server{Addr: ws.Address, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("bpnoded: webserver exited")
		}
	}()
	return srv
}

func startListeners(proc *processor.Processor, conf config.Config, nodeID bpv7.EndpointID) {
	for _, l := range conf.Listen {
		if l.Protocol != "stcp" {
			log.WithField("protocol", l.Protocol).Warn("bpnoded: unsupported listen protocol")
			continue
		}
		addr := l.Address
		_, err := stcp.Listen(addr, func(b *bpv7.Bundle, sourceAddr string) {
			proc.Submit(processor.Signal{Kind: processor.SignalBundleReceived, Bundle: b, SourceCLAAddr: sourceAddr})
		})
		if err != nil {
			log.WithError(err).WithField("address", addr).Warn("bpnoded: failed to start listener")
		}
	}
}
