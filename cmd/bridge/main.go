package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/webagency/opencode-bridge/bridge"
)

// setupLogging routes logs away from stdout, which belongs to the
// native messaging wire. Logs go to stderr, and additionally to the
// configured log file when one is set.
func setupLogging(logFile string) func() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if logFile == "" {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		log.Printf("[init] cannot open log file %s: %v", logFile, err)
		return func() {}
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return func() { _ = f.Close() }
}

func main() {
	cfgPath := flag.String("config", bridge.DefaultConfigPath(), "path to bridge.json")
	flag.Parse()

	cfg := bridge.LoadConfig(*cfgPath)
	closeLog := setupLogging(cfg.LogFile)
	defer closeLog()

	settings := bridge.NewSettings(cfg)
	relay := bridge.NewRelay(os.Stdin, os.Stdout, settings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The browser closes our stdin on disconnect, which ends the run
	// loop on its own; signals cover the host being killed directly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[shutdown] received %v", sig)
		cancel()
	}()

	stopWatch, err := watchConfig(*cfgPath, relay.ApplyConfig)
	if err != nil {
		log.Printf("[config] hot reload disabled: %v", err)
	} else {
		defer stopWatch()
	}

	log.Println("=============================================")
	log.Printf(" OpenCode bridge host (pid %d)", os.Getpid())
	log.Printf(" Backing server: %s on %s:%d", cfg.Executable, bridge.BackingHost, cfg.Port)
	log.Printf(" Request timeout: %dms", cfg.RequestTimeoutMs)
	log.Printf(" Startup timeout: %dms", cfg.StartupTimeoutMs)
	log.Println("=============================================")

	if err := relay.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("[relay] exited with error: %v", err)
	}
	log.Println("[shutdown] bridge host exited cleanly")
}
