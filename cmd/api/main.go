package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ledgerlink/internal/interfaces/scheduler"
	"ledgerlink/internal/shared/config"
	"ledgerlink/internal/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load .env if present; real deployments set variables directly
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()

	// Initialize telemetry (if enabled)
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Server.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  "9090",
		})
		if err != nil {
			log.Printf("Warning: Failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Printf("Telemetry shutdown error: %v", err)
				}
			}()
		}
	}

	deps, err := NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Initialize scheduler (if enabled)
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		log.Println("Initializing scheduler...")
		sched, err = scheduler.New(scheduler.Config{
			ScheduleTimes: cfg.Scheduler.ScheduleTimes,
			WorkerCount:   cfg.Scheduler.WorkerCount,
			JobDelay:      cfg.Scheduler.JobDelay,
			QueueSize:     cfg.Scheduler.QueueSize,
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
			JobProvider:   refreshJobProvider(deps),
		})
		if err != nil {
			return err
		}

		sched.Start()
		log.Printf("Scheduler started with times: %v", cfg.Scheduler.ScheduleTimes)
	} else {
		log.Println("Scheduler is disabled")
	}

	handler := SetupRoutes(deps, cfg)
	srv, redirectSrv := StartServers(NewServerConfigFromConfig(handler, cfg))

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	GracefulShutdown(srv, redirectSrv, sched, 30*time.Second)
	return nil
}

// refreshJobProvider builds one credential refresh job per user holding an
// active linked item.
func refreshJobProvider(deps *Dependencies) func(context.Context) ([]scheduler.Job, error) {
	return func(ctx context.Context) ([]scheduler.Job, error) {
		userIDs, err := deps.ItemRepo.ListActiveUserIDs(ctx)
		if err != nil {
			return nil, err
		}

		jobs := make([]scheduler.Job, 0, len(userIDs))
		for _, userID := range userIDs {
			jobs = append(jobs, scheduler.NewRefreshJob(userID, deps.LinkService))
		}
		return jobs, nil
	}
}
