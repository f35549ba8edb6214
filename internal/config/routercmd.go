package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/d3tn/bpnode/internal/bpv7"
	"github.com/d3tn/bpnode/internal/routing"
)

// Command is one parsed router-command statement, the payload of a
// PROCESS_ROUTER_COMMAND signal. Grounded on
// original_source/components/agents/config_agent.c's router_command_send
// callback and spec §6.4's grammar sketch
// ("ADD CONTACT <node_eid> <start>-<end> <bitrate> <reachable_eids>").
type Command struct {
	Verb       string // "ADD", "REMOVE", "UPDATE", "RESET"
	Noun       string // "CONTACT", "NODE", "ROUTING-TABLE"
	NodeEID    bpv7.EndpointID
	CLAAddress string
	Start, End time.Time
	BitrateBps uint64
	Serves     []bpv7.EndpointID
}

// ParseStatements splits buf on ';' and '\n' and parses each non-empty
// statement, per spec §6.4's "newline/semicolon-terminated mini-language".
func ParseStatements(buf []byte) ([]Command, error) {
	raw := strings.FieldsFunc(string(buf), func(r rune) bool { return r == ';' || r == '\n' })

	cmds := make([]Command, 0, len(raw))
	for _, stmt := range raw {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		cmd, err := parseStatement(stmt)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func parseStatement(stmt string) (Command, error) {
	fields := strings.Fields(stmt)
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("routercmd: statement %q too short", stmt)
	}

	verb, noun := strings.ToUpper(fields[0]), strings.ToUpper(fields[1])
	cmd := Command{Verb: verb, Noun: noun}

	switch {
	case verb == "RESET" && noun == "ROUTING-TABLE":
		return cmd, nil

	case noun == "CONTACT" && (verb == "ADD" || verb == "REMOVE"):
		return parseContactStatement(verb, fields[2:])

	case verb == "UPDATE" && noun == "NODE":
		return parseUpdateNodeStatement(fields[2:])

	default:
		return Command{}, fmt.Errorf("routercmd: unrecognized statement %q", stmt)
	}
}

// parseContactStatement handles:
//
//	ADD CONTACT <node_eid> <start>-<end> <bitrate> [<reachable_eids>...]
//	REMOVE CONTACT <node_eid> <start>-<end>
func parseContactStatement(verb string, args []string) (Command, error) {
	if len(args) < 2 {
		return Command{}, fmt.Errorf("routercmd: %s CONTACT needs at least node_eid and start-end", verb)
	}

	node, err := bpv7.NewEndpointID(args[0])
	if err != nil {
		return Command{}, fmt.Errorf("routercmd: invalid node_eid %q: %w", args[0], err)
	}

	start, end, err := parseWindow(args[1])
	if err != nil {
		return Command{}, err
	}

	cmd := Command{Verb: verb, Noun: "CONTACT", NodeEID: node, Start: start, End: end}

	if verb == "REMOVE" {
		return cmd, nil
	}

	if len(args) < 3 {
		return Command{}, fmt.Errorf("routercmd: ADD CONTACT needs a bitrate")
	}
	bitrate, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return Command{}, fmt.Errorf("routercmd: invalid bitrate %q: %w", args[2], err)
	}
	cmd.BitrateBps = bitrate

	for _, eidStr := range args[3:] {
		eid, err := bpv7.NewEndpointID(eidStr)
		if err != nil {
			return Command{}, fmt.Errorf("routercmd: invalid reachable eid %q: %w", eidStr, err)
		}
		cmd.Serves = append(cmd.Serves, eid)
	}

	return cmd, nil
}

// parseUpdateNodeStatement handles: UPDATE NODE <node_eid> <cla_address>
func parseUpdateNodeStatement(args []string) (Command, error) {
	if len(args) < 2 {
		return Command{}, fmt.Errorf("routercmd: UPDATE NODE needs node_eid and cla_address")
	}
	node, err := bpv7.NewEndpointID(args[0])
	if err != nil {
		return Command{}, fmt.Errorf("routercmd: invalid node_eid %q: %w", args[0], err)
	}
	return Command{Verb: "UPDATE", Noun: "NODE", NodeEID: node, CLAAddress: args[1]}, nil
}

func parseWindow(w string) (start, end time.Time, err error) {
	parts := strings.SplitN(w, "-", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("routercmd: malformed window %q, want start-end", w)
	}
	startUnix, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("routercmd: invalid window start %q: %w", parts[0], err)
	}
	endUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("routercmd: invalid window end %q: %w", parts[1], err)
	}
	return time.Unix(startUnix, 0), time.Unix(endUnix, 0), nil
}

// ToContact builds a routing.Contact from an ADD CONTACT command.
func (c Command) ToContact() *routing.Contact {
	return routing.NewContact(c.NodeEID, c.CLAAddress, c.Start, c.End, c.BitrateBps)
}
