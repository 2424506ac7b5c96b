// Command replay runs a recorded observation log through the analysis
// pipeline offline and prints the events it would have emitted. Useful
// for tuning exercise definitions against captured sessions without a
// Redis deployment.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/floorsight/internal/config"
	"github.com/banshee-data/floorsight/internal/events"
	"github.com/banshee-data/floorsight/internal/floor"
	"github.com/banshee-data/floorsight/internal/floor/exercise"
	"github.com/banshee-data/floorsight/internal/floor/guidance"
	"github.com/banshee-data/floorsight/internal/floor/identity"
	"github.com/banshee-data/floorsight/internal/floor/pipeline"
	"github.com/banshee-data/floorsight/internal/timeutil"
)

var (
	inputFile  = flag.String("file", "", "Observation log, one JSON observation per line (default stdin)")
	configFile = flag.String("config", "", "Tuning config JSON (empty uses built-in defaults)")
	dumpEvents = flag.Bool("events", false, "Print every emitted event as JSON")
	settle     = flag.Duration("settle", 500*time.Millisecond, "How long to wait for workers to drain")
)

func main() {
	flag.Parse()

	tuning := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configFile, err)
		}
	}

	in := os.Stdin
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			log.Fatalf("failed to open %s: %v", *inputFile, err)
		}
		defer f.Close()
		in = f
	}

	pub := events.NewMemoryPublisher()
	arena := floor.NewArena(tuning.ArenaConfig())
	exits := identity.NewExitRegistry(tuning.GetGateWindow())
	resolver := identity.NewResolver(tuning.ResolverConfig(), identity.NewMemoryGallery(), exits)
	engine := exercise.NewEngine(tuning.EngineConfig(), tuning.GetExercises())
	limiter := guidance.NewLimiter(tuning.GetGuidanceInterval())
	coordinator := pipeline.New(tuning.CoordinatorConfig(), arena, resolver, engine,
		limiter, exits, pub, timeutil.RealClock{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coordinator.Start(ctx)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var obs floor.Observation
		if err := json.Unmarshal(raw, &obs); err != nil {
			log.Printf("line %d: undecodable observation, skipping: %v", line, err)
			continue
		}
		coordinator.Ingest(&obs)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read input: %v", err)
	}

	// Workers consume asynchronously; give them a moment to drain.
	time.Sleep(*settle)
	coordinator.Stop()

	if *dumpEvents {
		enc := json.NewEncoder(os.Stdout)
		for _, ev := range pub.Events() {
			out := struct {
				Kind  string       `json:"kind"`
				Event events.Event `json:"event"`
			}{ev.Kind(), ev}
			if err := enc.Encode(out); err != nil {
				log.Fatalf("encode event: %v", err)
			}
		}
	}

	stats := coordinator.Stats()
	fmt.Printf("observations: %d lines read\n", line)
	for cam, cs := range stats.Cameras {
		fmt.Printf("  %s: received=%d processed=%d dropped=%d invalid=%d\n",
			cam, cs.Received, cs.Processed, cs.Dropped, cs.Invalid)
	}
	fmt.Printf("identities resolved: %d\n", len(pub.ByKind(events.KindIdentityResolved)))
	fmt.Printf("reps counted:        %d\n", len(pub.ByKind(events.KindRepCounted)))
	fmt.Printf("form alerts:         %d\n", len(pub.ByKind(events.KindFormAlert)))
	fmt.Printf("guidance sent:       %d\n", len(pub.ByKind(events.KindGuidance)))
}
