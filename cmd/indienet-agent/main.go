// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// indienet-agent runs the relay core against an external agent
// process. It loads the encrypted identity, connects to the
// configured relays, and bridges decrypted messages to a child
// process speaking line-delimited JSON:
//
//	indienet-agent --config indienet.yaml -- my-agent --flag
//
// Events flow to the child's stdin; commands (reply, post, profile,
// follow) flow back on its stdout. The child's stderr passes through.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/indienet-foundation/indienet/bridge"
	"github.com/indienet-foundation/indienet/keystore"
	"github.com/indienet-foundation/indienet/lib/config"
	"github.com/indienet-foundation/indienet/lib/secret"
	"github.com/indienet-foundation/indienet/lib/version"
	"github.com/indienet-foundation/indienet/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Everything after -- is the agent command line.
	args := os.Args[1:]
	var agentCmd []string
	for i, arg := range args {
		if arg == "--" {
			agentCmd = args[i+1:]
			args = args[:i]
			break
		}
	}

	flags := pflag.NewFlagSet("indienet-agent", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to YAML config (default: $INDIENET_CONFIG)")
	passphraseFile := flags.String("passphrase-file", "", "read the keystore passphrase from this file instead of prompting")
	verbose := flags.Bool("verbose", false, "enable debug logging")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Printf("indienet-agent %s\n", version.Info())
		return nil
	}

	if len(agentCmd) == 0 {
		return fmt.Errorf("agent command required after -- (e.g. indienet-agent -- my-agent)")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if *verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	passphrase, err := readPassphrase(*passphraseFile)
	if err != nil {
		return err
	}
	id, err := keystore.New(cfg.Identity.StorePath).Load(passphrase)
	passphrase.Close()
	if errors.Is(err, keystore.ErrNotFound) {
		return fmt.Errorf("no identity configured at %s; run 'indienet-keygen generate' first", cfg.Identity.StorePath)
	}
	if err != nil {
		return err
	}
	defer id.Close()
	logger.Info("identity loaded", "pubkey", id.PublicKey()[:8])

	agentBridge := &bridge.Bridge{
		Identity:     id,
		DiscoveryTag: cfg.Discovery.Tag,
		Logger:       logger,
	}

	pool, err := relay.NewPool(relay.PoolOptions{
		Logger: logger,
		Connection: relay.ConnectionOptions{
			DialTimeout:    cfg.DialTimeout(),
			BackoffInitial: cfg.BackoffInitial(),
			BackoffMax:     cfg.BackoffMax(),
			SendQueueSize:  cfg.Connection.SendQueueSize,
			DegradedAfter:  cfg.Connection.DegradedAfter,
		},
		DedupCacheSize:    cfg.Pool.DedupCacheSize,
		DispatchQueueSize: cfg.Pool.DispatchQueueSize,
		PublishStatus:     agentBridge.HandlePublishStatus,
	})
	if err != nil {
		return err
	}
	agentBridge.Pool = pool

	for _, url := range cfg.Relays {
		if err := pool.AddRelay(url); err != nil {
			pool.Close()
			return err
		}
	}

	// The subprocess starts only once the relay side is up, so a
	// config or pool failure never leaves an orphaned agent process.
	runtime, err := newSubprocessRuntime(agentCmd, logger)
	if err != nil {
		pool.Close()
		return err
	}
	agentBridge.Runtime = runtime
	agentBridge.Notifier = runtime

	runtime.attach(agentBridge)
	if err := agentBridge.Start(); err != nil {
		pool.Close()
		runtime.stop()
		return err
	}
	logger.Info("bridge started", "relays", len(cfg.Relays), "tag", cfg.Discovery.Tag)

	// Run until interrupted.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	received := <-signals
	logger.Info("shutting down", "signal", received.String())

	agentBridge.Stop()
	pool.Close()
	runtime.stop()
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// readPassphrase obtains the keystore passphrase from a file or an
// interactive prompt.
func readPassphrase(passphraseFile string) (*secret.Buffer, error) {
	if passphraseFile != "" {
		buffer, err := secret.ReadFromPath(passphraseFile)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase file: %w", err)
		}
		return buffer, nil
	}

	stdinFD := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFD) {
		return nil, fmt.Errorf("stdin is not a terminal; use --passphrase-file")
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	passphraseBytes, err := term.ReadPassword(stdinFD)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	buffer, err := secret.NewFromBytes(passphraseBytes)
	if err != nil {
		secret.Zero(passphraseBytes)
		return nil, err
	}
	return buffer, nil
}
