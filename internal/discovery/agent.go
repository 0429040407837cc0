// ABOUTME: mDNS agent that browses for sink advertisements and reports add/retract events
// ABOUTME: Inverted from mdns.go's browseLoop (client browsing for servers) to browse for _sendspin._tcp sinks
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/resonatehub/playbackd/internal/engine"
)

const sinkServiceType = "_sendspin._tcp"

// Agent browses for Sendspin sink advertisements on the local network
// and reports add/retract events to Events(). It implements the
// service-discovery collaborator of spec.md §1(e).
type Agent struct {
	pollInterval time.Duration
	queryTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	events chan engine.DiscoveryEvent

	seen  map[string]string // name -> address, to detect retractions between polls
	query func(*mdns.QueryParam) error
}

// NewAgent constructs an Agent that re-browses every pollInterval,
// allowing each query up to queryTimeout to collect responses.
func NewAgent(pollInterval, queryTimeout time.Duration) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		pollInterval: pollInterval,
		queryTimeout: queryTimeout,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan engine.DiscoveryEvent, 32),
		seen:         map[string]string{},
		query:        mdns.Query,
	}
}

// Browse starts the background poll loop.
func (a *Agent) Browse() error {
	go a.pollLoop()
	return nil
}

// Events is the channel the engine (or a fan-out wrapper, such as
// cmd/playbackd's fanOutDiscovery) consumes discovery events from.
func (a *Agent) Events() <-chan engine.DiscoveryEvent {
	return a.events
}

func (a *Agent) pollLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}
		a.pollOnce()
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(a.pollInterval):
		}
	}
}

func (a *Agent) pollOnce() {
	entries := make(chan *mdns.ServiceEntry, 16)
	found := map[string]string{}
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			name := strings.TrimSuffix(entry.Name, ".")
			addr := entryAddress(entry)
			found[name] = addr
			a.emitAdd(name, addr, entry)
		}
	}()

	params := &mdns.QueryParam{
		Service: sinkServiceType,
		Domain:  "local",
		Timeout: a.queryTimeout,
		Entries: entries,
	}
	_ = a.query(params)
	close(entries)
	<-done

	for name := range a.seen {
		if _, ok := found[name]; !ok {
			a.emitRetract(name)
		}
	}
	a.seen = found
}

func (a *Agent) emitAdd(name, addr string, entry *mdns.ServiceEntry) {
	ev := engine.DiscoveryEvent{
		Name:        name,
		Address:     addr,
		Port:        entry.Port,
		HasPassword: hasPasswordTag(entry.InfoFields),
	}
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

func (a *Agent) emitRetract(name string) {
	select {
	case a.events <- engine.DiscoveryEvent{Name: name, Port: -1}:
	case <-a.ctx.Done():
	}
}

func entryAddress(entry *mdns.ServiceEntry) string {
	ip := entry.AddrV4
	if ip == nil {
		ip = entry.AddrV6
	}
	if ip == nil {
		return fmt.Sprintf("%s:%d", entry.Host, entry.Port)
	}
	return (&net.TCPAddr{IP: ip, Port: entry.Port}).String()
}

// hasPasswordTag looks for a "password=1" TXT record, the sink's way of
// advertising that speaker_set needs credentials it's a Non-goal for
// this engine to supply (spec.md §1(e) Non-goals).
func hasPasswordTag(fields []string) bool {
	for _, f := range fields {
		if f == "password=1" || f == "password=true" {
			return true
		}
	}
	return false
}

// Stop ends the poll loop.
func (a *Agent) Stop() {
	a.cancel()
}
