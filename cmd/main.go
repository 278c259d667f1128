package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/web-research-agent/internal/agent"
	"github.com/MimeLyc/web-research-agent/internal/config"
	"github.com/MimeLyc/web-research-agent/internal/httpapi"
	"github.com/MimeLyc/web-research-agent/internal/jobs"
	"github.com/MimeLyc/web-research-agent/internal/persistence"
	"github.com/MimeLyc/web-research-agent/internal/service"
	"github.com/MimeLyc/web-research-agent/pkg/log"
)

func main() {
	var (
		task  = flag.String("task", "", "run a single research task and exit")
		title = flag.String("title", "", "optional title for the -task run")
		serve = flag.Bool("serve", false, "start the HTTP API server")
	)
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log.SetGlobalLevel(log.ParseLevel(cfg.Server.LogLevel))

	store, err := persistence.NewSQLiteStore(cfg.Server.DBPath)
	service.Must(err, "open store")
	defer store.Close()

	svc, err := service.NewResearchService(cfg, store)
	service.Must(err, "create research service")

	switch {
	case *task != "":
		runOnce(cfg, svc, *title, *task)
	case *serve:
		runServer(cfg, store, svc)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runOnce(cfg *config.Config, svc *service.ResearchService, title, instruction string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := svc.RunTask(ctx, agent.Task{Title: title, Instruction: instruction})
	if err != nil {
		log.Error("Research run failed: %v", err)
		os.Exit(1)
	}

	fmt.Println(result.FinalText)
	log.Info("Run %s: %s, %d steps, %d tool calls",
		result.RunID, result.Reason, len(result.Steps), result.ToolCalls)
}

func runServer(cfg *config.Config, store *persistence.SQLiteStore, svc *service.ResearchService) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := jobs.NewQueue(cfg.Agent.Workers, store)
	queue.Start(svc.ExecuteJob)
	defer queue.Stop()

	c := cron.New()
	service.Must(svc.Schedule(ctx, c), "schedule maintenance")
	c.Start()
	defer c.Stop()

	server := httpapi.NewServer(queue,
		httpapi.WithRunStore(store),
		httpapi.WithStatusProvider(svc.Status),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("HTTP API listening on %s (tools: %v)", cfg.Server.Addr, svc.Registry().List())
		return server.ListenAndServe(cfg.Server.Addr)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		log.Error("Server exited: %v", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}
