//go:build linux

// Package app ties the configuration to an engine and runs it until the
// process is told to stop.
package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/searchktools/xg-server/config"
	"github.com/searchktools/xg-server/core"
)

// App is one server process.
type App struct {
	cfg    *config.Config
	engine *core.Engine
}

// New creates an application instance with an engine built from cfg.
func New(cfg *config.Config) (*App, error) {
	engine, err := core.NewEngine(cfg.Options())
	if err != nil {
		return nil, err
	}
	return NewWithEngine(cfg, engine), nil
}

// NewWithEngine creates an application instance around a pre-configured engine.
func NewWithEngine(cfg *config.Config, engine *core.Engine) *App {
	return &App{
		cfg:    cfg,
		engine: engine,
	}
}

// Engine returns the underlying engine for route registration
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Run serves until ctx is done or SIGINT/SIGTERM arrives, then stops the
// engine gracefully: queued work is dropped, running handlers get
// core.WorkerStopTimeout to finish.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.awaitSignal(ctx, cancel)
	return a.engine.Run(ctx)
}

func (a *App) awaitSignal(ctx context.Context, cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("Signal received: %v. Shutting down...", sig)
		cancel()
	case <-ctx.Done():
	}
}

// Main runs the application and exits the process on failure.
func (a *App) Main() {
	if err := a.Run(context.Background()); err != nil {
		log.Printf("Server failed: %v", err)
		os.Exit(1)
	}
}
