// ABOUTME: Entry point for the multi-room playback daemon
// ABOUTME: Parses CLI flags, wires collaborators into an engine.Engine, and runs the status TUI
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/resonatehub/playbackd/internal/catalog"
	"github.com/resonatehub/playbackd/internal/decode"
	"github.com/resonatehub/playbackd/internal/discovery"
	"github.com/resonatehub/playbackd/internal/engine"
	"github.com/resonatehub/playbackd/internal/localaudio"
	"github.com/resonatehub/playbackd/internal/remotesink"
)

var (
	name       = flag.String("name", "", "Daemon friendly name (default: hostname-playbackd)")
	catalogDB  = flag.String("catalog", "playbackd.db", "Path to the SQLite catalog/settings file")
	logFile    = flag.String("log-file", "playbackd.log", "Log file path")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS sink discovery")
	pollPeriod = flag.Duration("discovery-poll", 10*time.Second, "mDNS re-browse interval")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, f))

	daemonName := *name
	if daemonName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		daemonName = fmt.Sprintf("%s-playbackd", hostname)
	}

	log.Printf("Starting playbackd: %s", daemonName)
	log.Printf("Catalog: %s", *catalogDB)
	log.Printf("Logging to: %s", *logFile)

	store, err := catalog.Open(*catalogDB)
	if err != nil {
		log.Fatalf("catalog open error: %v", err)
	}
	defer store.Close()

	addrs := remotesink.NewAddressBook()
	discoverCh := make(chan engine.DiscoveryEvent, 32)

	if !*noMDNS {
		agent := discovery.NewAgent(*pollPeriod, 3)
		if err := agent.Browse(); err != nil {
			log.Fatalf("discovery browse error: %v", err)
		}
		defer agent.Stop()
		go fanOutDiscovery(agent.Events(), addrs, discoverCh)
	} else {
		close(discoverCh)
	}

	status := &statusTUI{program: nil}

	eng, err := engine.New(engine.Config{
		Catalog:     store,
		Decoder:     decode.New(),
		RemoteSinks: remotesink.New(addrs, daemonName),
		LocalSink:   localaudio.New(),
		Discovery:   discoverCh,
		Volumes:     store,
		Notifier:    status,
	})
	if err != nil {
		log.Fatalf("engine init error: %v", err)
	}

	go eng.Run()
	defer eng.Shutdown()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("received %v, shutting down", sig)
		eng.Shutdown()
		if status.program != nil {
			status.program.Quit()
		}
	}()

	m := newTUIModel(eng, daemonName)
	program := tea.NewProgram(m, tea.WithAltScreen())
	status.program = program
	if _, err := program.Run(); err != nil {
		log.Fatalf("tui error: %v", err)
	}

	log.Printf("playbackd stopped")
}

// fanOutDiscovery forwards every discovery event to both the engine's
// channel and the address book, in the same order, so the address
// book's first-seen sink id assignment stays in lockstep with the
// engine's own (internal/engine.Engine.sinkID).
func fanOutDiscovery(in <-chan engine.DiscoveryEvent, addrs *remotesink.AddressBook, out chan<- engine.DiscoveryEvent) {
	defer close(out)
	for ev := range in {
		addrs.Observe(ev.Name, ev.Address, ev.Port < 0)
		out <- ev
	}
}
