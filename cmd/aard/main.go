// aard is the orchestration core's server process: it loads
// configuration, opens the database and Redis connections, wires every
// component together, reclaims whatever it was still holding from a
// previous crash, and starts serving HTTP/WS traffic alongside the
// worker pool that drives claimed workflows through the pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/aard-ai/aard/pkg/api"
	"github.com/aard-ai/aard/pkg/approval"
	"github.com/aard-ai/aard/pkg/capability"
	"github.com/aard-ai/aard/pkg/checkpoint"
	"github.com/aard-ai/aard/pkg/cleanup"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/governor"
	"github.com/aard-ai/aard/pkg/journal"
	"github.com/aard-ai/aard/pkg/masking"
	"github.com/aard-ai/aard/pkg/modelgateway"
	"github.com/aard-ai/aard/pkg/pipeline"
	"github.com/aard-ai/aard/pkg/plan"
	"github.com/aard-ai/aard/pkg/promptregistry"
	"github.com/aard-ai/aard/pkg/queue"
	"github.com/aard-ai/aard/pkg/reflection"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	podID := getEnv("POD_ID", fmt.Sprintf("aard-%s", uuid.NewString()[:8]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting aard")
	log.Printf("Pod ID: %s", podID)
	log.Printf("Config directory: %s", *configDir)

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	db, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("error closing database client: %v", err)
		}
	}()
	log.Println("connected to PostgreSQL database")

	redisClient, err := governor.NewRedisClient(ctx, cfg.Governor)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("error closing redis client: %v", err)
		}
	}()
	log.Println("connected to redis")

	// C1: Execution Event Journal, plus the NOTIFY-backed live feed it
	// shares with pkg/api's WebSocket endpoints.
	j := journal.New(db)
	journalSvc := journal.NewService(j, dbConfig.DSN(), 10*time.Second)
	if err := journalSvc.Start(ctx); err != nil {
		log.Fatalf("failed to start journal listener: %v", err)
	}
	defer journalSvc.Stop(ctx)

	// C2: Prompt Registry.
	prompts := promptregistry.New(db)

	// C3: Capability Registry.
	caps := capability.New(db)

	// C5: Checkpoint & memory store.
	checkpoints := checkpoint.New(db)

	// C4: Model Invocation Gateway.
	gateway := modelgateway.New(cfg, prompts, j)
	gateway.SetMasker(masking.NewService(cfg.Defaults.RequestPayloadMasking))

	// C6: Pipeline State Machine.
	machine := pipeline.New(db, j)

	// C7: Plan Lifecycle & Step Executor.
	plans := plan.NewStore(db)

	// C8: Adaptive Approval Gate.
	approvals := approval.New(approval.NewStore(db), caps, machine, j, cfg.Approval)

	// C9: Reflection & Meta-Learning Sink.
	biases := reflection.NewBiasStore(db)
	reflectionSink := reflection.New(biases, j, prompts, gateway, cfg.Reflection)

	// planExec wires C7's DAG dispatch to C3/C4/C5/C8/C9. Agent/tool
	// execution backends are external collaborators this core doesn't
	// ship; nil here means a step targeting one fails with
	// DependencyNotReady rather than panicking, same as leaving the
	// teacher's MCP client factory unset in a config without servers.
	planExec := plan.NewExecutor(plans, checkpoints, caps, gateway, approvals, nil, nil, reflectionSink, cfg.Plan, cfg.Step, cfg.Replan)

	// C10: Resource & Quota Governor.
	quotaGovernor := governor.New(redisClient, j, cfg.Quota, cfg.Governor)

	orchestrator := queue.NewOrchestrator(machine, plans, planExec, approvals, gateway, caps, reflectionSink, j, prompts, quotaGovernor)

	pool := queue.NewWorkerPool(podID, db, machine, cfg.Queue, orchestrator)
	if err := queue.CleanupStartupOrphans(ctx, pool, podID); err != nil {
		log.Printf("warning: startup orphan cleanup failed: %v", err)
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("failed to start worker pool: %v", err)
	}
	defer pool.Stop()

	retention := cleanup.NewService(db, cfg.Retention)
	retention.Start(ctx)
	defer retention.Stop()

	// C11: External Interface Layer.
	server := api.NewServer(cfg, db, machine, plans, approvals, journalSvc)

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := server.Start(cfg.Server.Addr); err != nil {
			slog.Error("HTTP server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down HTTP server: %v", err)
	}
}
