package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	server "github.com/kazz187/agentdash/internal"
	"github.com/kazz187/agentdash/internal/agent"
	"github.com/kazz187/agentdash/internal/config"
	"github.com/kazz187/agentdash/internal/event"
	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/execapi"
	"github.com/kazz187/agentdash/internal/orchestrator"
	"github.com/kazz187/agentdash/internal/poller"
	"github.com/kazz187/agentdash/internal/project"
	"github.com/kazz187/agentdash/internal/projectrun"
	"github.com/kazz187/agentdash/internal/pushnotification"
	"github.com/kazz187/agentdash/internal/recordwatch"
	"github.com/kazz187/agentdash/internal/task"
	"github.com/kazz187/agentdash/pkg/clog"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Setup repositories
	storageEnv := config.StorageEnvFromEnv(env)
	repos, err := newRepositories(ctx, storageEnv)
	if err != nil {
		slog.Error("failed to setup storage", "type", storageEnv.Type, "error", err)
		os.Exit(1)
	}
	defer repos.Close()

	bus := eventbus.New()

	// Setup execution API and pollers
	execEnv := config.ExecAPIEnvFromEnv(env)
	execClient := execapi.New(execEnv.URL, execapi.WithTimeout(execEnv.Timeout))
	taskPoller := poller.NewTaskPoller(repos.task, execClient, bus, execEnv.PollInterval)
	projectPoller := poller.NewProjectPoller(repos.run, execClient, bus, execEnv.PollInterval)
	orch := orchestrator.New(bus, repos.task, repos.project, repos.run, execClient, projectPoller)

	// Setup push notification
	vapidEnv := config.VAPIDEnvFromEnv(env)
	pushSender := pushnotification.NewSender(vapidEnv, repos.pushSub)
	pushDispatcher := pushnotification.NewDispatcher(bus, pushSender)

	srv := server.NewServer(
		config.BaseEnvFromEnv(env),
		repos.ping,
		project.NewServer(repos.project, repos.run, orch, bus),
		projectrun.NewServer(repos.run),
		task.NewServer(repos.task, repos.project, repos.agent, orch, bus),
		agent.NewServer(repos.agent, bus),
		event.NewServer(bus),
		pushnotification.NewServer(vapidEnv, repos.pushSub, pushSender),
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := taskPoller.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "task poller stopped", "error", err)
		}
	})
	wg.Go(func() {
		if err := projectPoller.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "project poller stopped", "error", err)
		}
	})
	wg.Go(func() { pushDispatcher.Start(ctx) })
	if storageEnv.Watch {
		if repos.local == nil {
			slog.WarnContext(ctx, "WATCH_STORAGE requires local storage, ignoring", "type", storageEnv.Type)
		} else {
			watcher := recordwatch.New(repos.local, bus, repos.task, repos.project, repos.agent, repos.run, projectPoller)
			wg.Go(func() {
				if err := watcher.Run(ctx); err != nil {
					slog.ErrorContext(ctx, "storage watcher stopped", "error", err)
				}
			})
		}
	}

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	// Give active connections time to finish after stream contexts are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	wg.Wait()
}
