// hopsd is the engine supervisor: it owns the state directory, the
// Sandbox Manager, and the grpc-over-Unix-socket Control Service,
// running until it receives SIGINT/SIGTERM.
//
// Build: go build -o hopsd ./cmd/hopsd
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hopsd/hops/pkg/engine"
	"github.com/hopsd/hops/pkg/hopslog"
)

func main() {
	stateDirFlag := flag.String("state-dir", "", "override the engine state directory (default: $HOME/.hops)")
	configFlag := flag.String("config", "", "path to hopsd.toml (default: <state-dir>/hopsd.toml)")
	flag.Parse()

	stateDir, err := engine.ResolveStateDir(*stateDirFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hopsd:", err)
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = filepath.Join(stateDir, "hopsd.toml")
	}

	cfg, err := engine.LoadFromFile(configPath, stateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hopsd:", err)
		os.Exit(1)
	}

	logFile := ""
	if cfg.Log.ToFile {
		logFile = filepath.Join(stateDir, "logs", "hopsd.log")
	}
	logger, err := hopslog.New(hopslog.Options{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		FilePath: logFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "hopsd:", err)
		os.Exit(1)
	}
	log := logger.WithField("state_dir", stateDir)

	sup, err := engine.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize engine")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		log.WithError(err).Error("engine exited with error")
		os.Exit(1)
	}
}
