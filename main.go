package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/floorsight/internal/api"
	"github.com/banshee-data/floorsight/internal/config"
	"github.com/banshee-data/floorsight/internal/db"
	"github.com/banshee-data/floorsight/internal/events"
	"github.com/banshee-data/floorsight/internal/floor"
	"github.com/banshee-data/floorsight/internal/floor/exercise"
	"github.com/banshee-data/floorsight/internal/floor/guidance"
	"github.com/banshee-data/floorsight/internal/floor/identity"
	"github.com/banshee-data/floorsight/internal/floor/pipeline"
	"github.com/banshee-data/floorsight/internal/timeutil"
	"github.com/banshee-data/floorsight/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	redisAddr     = flag.String("redis", "localhost:6379", "Redis address (empty disables streaming I/O)")
	dbFile        = flag.String("db", "floorsight.db", "SQLite database file (empty disables persistence)")
	migrationsDir = flag.String("migrations", "migrations", "Schema migrations directory")
	configFile    = flag.String("config", "", "Tuning config JSON (empty uses built-in defaults)")
	obsStream     = flag.String("obs-stream", events.DefaultObservationStream, "Redis stream carrying observations")
	eventStream   = flag.String("event-stream", events.DefaultEventStream, "Redis stream receiving engine events")
	consumerName  = flag.String("consumer", "engine-1", "Consumer name within the intake group")
	eventMaxLen   = flag.Int64("event-maxlen", 100_000, "Approximate cap on the event stream length")
	verbose       = flag.Bool("verbose", false, "Enable diagnostic logging")
	trace         = flag.Bool("trace", false, "Enable per-frame trace logging")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("floorsight %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	writers := floor.LogWriters{Ops: os.Stderr}
	if *verbose {
		writers.Diag = os.Stderr
	}
	if *trace {
		writers.Diag = os.Stderr
		writers.Trace = os.Stderr
	}
	floor.SetLogWriters(writers)

	tuning := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configFile, err)
		}
	}

	var database *db.DB
	if *dbFile != "" {
		var err error
		database, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		if err := database.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	var redisClient *redis.Client
	if *redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer redisClient.Close()
	}

	// Engine events fan out to every configured sink.
	var sinks events.MultiPublisher
	if redisClient != nil {
		sinks = append(sinks, events.NewRedisPublisher(redisClient, *eventStream, *eventMaxLen, timeutil.RealClock{}))
	}
	if database != nil {
		sinks = append(sinks, db.NewRecorder(database))
	}
	var publisher events.Publisher
	if len(sinks) > 0 {
		publisher = sinks
	}

	// Enrolled identities seed the gallery so known members match from
	// the first resolution window after a restart.
	gallery := identity.NewMemoryGallery()
	if database != nil {
		enrolled, err := database.EnrolledIdentities(context.Background())
		if err != nil {
			log.Fatalf("failed to load enrolled identities: %v", err)
		}
		for _, e := range enrolled {
			if err := gallery.Upsert(context.Background(), floor.IdentityID(e.IdentityID), e.Appearance, e.Face); err != nil {
				log.Fatalf("failed to seed gallery with %s: %v", e.IdentityID, err)
			}
		}
		if len(enrolled) > 0 {
			log.Printf("seeded gallery with %d enrolled identities", len(enrolled))
		}
	}

	arena := floor.NewArena(tuning.ArenaConfig())
	exits := identity.NewExitRegistry(tuning.GetGateWindow())
	resolver := identity.NewResolver(tuning.ResolverConfig(), gallery, exits)
	engine := exercise.NewEngine(tuning.EngineConfig(), tuning.GetExercises())
	limiter := guidance.NewLimiter(tuning.GetGuidanceInterval())
	coordinator := pipeline.New(tuning.CoordinatorConfig(), arena, resolver, engine,
		limiter, exits, publisher, timeutil.RealClock{})

	// Create a wait group for the HTTP server, intake, and coordinator routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coordinator.Start(ctx)
	defer coordinator.Stop()

	// consume observations from the perception stream and feed the pipeline
	if redisClient != nil {
		intake := events.NewIntake(redisClient, *obsStream, events.DefaultConsumerGroup, *consumerName)
		if err := intake.EnsureGroup(ctx); err != nil {
			log.Fatalf("failed to prepare observation stream: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := intake.Run(ctx, coordinator.Ingest); err != nil && err != context.Canceled {
				log.Printf("intake terminated: %v", err)
			}
			log.Print("intake routine terminated")
		}()
	} else {
		log.Print("redis disabled: no observation intake, HTTP API only")
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// the API server also mounts the admin debugging routes when a
		// database is attached
		mux := api.NewServer(arena, resolver, engine, coordinator, database, tuning).ServeMux()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("floorsight %s listening on %s", version.Version, *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
