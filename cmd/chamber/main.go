package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"chamber/internal/client"
	"chamber/internal/config"
	"chamber/internal/logging"
	"chamber/internal/messages"
	"chamber/internal/store"
	"chamber/internal/stream"
	"chamber/internal/tui"
)

func main() {
	fs := flag.NewFlagSet("chamber", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	serverURL := fs.String("server", "", "assistant server URL (overrides config)")
	directory := fs.String("directory", "", "project directory to scope sessions to")
	sessionID := fs.String("session", "", "session to open on start")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return
		}
		os.Exit(2)
	}
	exitOnErr(run(*serverURL, *directory, *sessionID))
}

func run(serverURL, directory, sessionID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serverURL == "" {
		serverURL = cfg.ServerURL()
	}
	if directory == "" {
		directory = cfg.Server.Directory
	}

	log := logging.Nop()
	if cfg.StreamDebugEnabled() {
		path, err := config.StreamLogPath()
		if err != nil {
			return err
		}
		log, err = logging.NewFile(path, logging.ParseLevel(cfg.LogLevel()))
		if err != nil {
			return fmt.Errorf("open stream log: %w", err)
		}
	}

	api := client.New(serverURL, cfg.ServerTimeout(),
		client.WithBasicAuth(cfg.Server.Username, cfg.Server.Token),
		client.WithDirectory(directory),
		client.WithLogger(log),
	)

	dbPath, err := config.StateDBPath()
	if err != nil {
		return err
	}
	states, err := store.NewBboltStateStore(dbPath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer states.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appState, err := states.Load(ctx)
	if err != nil {
		return fmt.Errorf("load app state: %w", err)
	}
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		appState.LastSessionID = sessionID
	}

	msgStore := messages.NewStore(api, messages.NewTimerScheduler(), cfg.Tuning, log)
	ctrl := stream.NewController(api, api, msgStore, cfg.Tuning, log,
		stream.WithCompletionHook(func(sessionID, messageID string) {
			log.Debug("turn completed", logging.F("session", sessionID), logging.F("message", messageID))
		}),
	)
	ctrl.Start(ctx)
	defer ctrl.Stop()

	return tui.Run(ctx, tui.Deps{
		API:        api,
		Store:      msgStore,
		Controller: ctrl,
		States:     states,
		Tuning:     cfg.Tuning,
		Log:        log,
		AppState:   appState,
	})
}

func exitOnErr(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "chamber: %v\n", err)
	os.Exit(1)
}
