// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// indienet-keygen manages the on-disk identity keystore: generating
// fresh keypairs, importing existing secret keys, and inspecting what
// is stored. The secret key never reaches stdout unless explicitly
// asked for with --reveal-secret.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/indienet-foundation/indienet/identity"
	"github.com/indienet-foundation/indienet/keystore"
	"github.com/indienet-foundation/indienet/lib/config"
	"github.com/indienet-foundation/indienet/lib/secret"
	"github.com/indienet-foundation/indienet/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch os.Args[1] {
	case "generate":
		return runGenerate(os.Args[2:])
	case "import":
		return runImport(os.Args[2:])
	case "show":
		return runShow(os.Args[2:])
	case "delete":
		return runDelete(os.Args[2:])
	case "version":
		fmt.Printf("indienet-keygen %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: indienet-keygen <subcommand> [flags]

Subcommands:
  generate    Generate a new keypair and save it encrypted
  import      Import an existing secret key (hex)
  show        Show the stored identity (public key by default)
  delete      Remove the stored identity
  version     Print version information

Run 'indienet-keygen <subcommand> --help' for subcommand flags.
`)
}

// storePath resolves the keystore location: the flag wins, then the
// config file, then the built-in default.
func storePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg, err := config.Load(); err == nil {
		return cfg.Identity.StorePath
	}
	return config.Default().Identity.StorePath
}

// readPassphrase obtains the keystore passphrase: from a file when
// --passphrase-file is set, otherwise by prompting on the terminal.
// When confirm is set the prompt is issued twice and both entries must
// match.
func readPassphrase(passphraseFile string, confirm bool) (*secret.Buffer, error) {
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
	first, err := term.ReadPassword(stdinFD)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(stdinFD)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			secret.Zero(first)
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		match := len(first) == len(second)
		if match {
			for i := range first {
				if first[i] != second[i] {
					match = false
					break
				}
			}
		}
		secret.Zero(second)
		if !match {
			secret.Zero(first)
			return nil, fmt.Errorf("passphrases do not match")
		}
	}

	buffer, err := secret.NewFromBytes(first)
	if err != nil {
		secret.Zero(first)
		return nil, err
	}
	return buffer, nil
}

func runGenerate(args []string) error {
	flags := pflag.NewFlagSet("generate", pflag.ExitOnError)
	store := flags.String("store", "", "keystore path (default: from config)")
	passphraseFile := flags.String("passphrase-file", "", "read the passphrase from this file instead of prompting")
	force := flags.Bool("force", false, "overwrite an existing identity")
	if err := flags.Parse(args); err != nil {
		return err
	}

	path := storePath(*store)
	ks := keystore.New(path)
	exists, err := ks.Exists()
	if err != nil {
		return err
	}
	if exists && !*force {
		return fmt.Errorf("identity already exists at %s (use --force to overwrite)", path)
	}

	passphrase, err := readPassphrase(*passphraseFile, true)
	if err != nil {
		return err
	}
	defer passphrase.Close()

	id, err := identity.Generate()
	if err != nil {
		return err
	}
	defer id.Close()

	if err := ks.Save(id, passphrase, time.Now()); err != nil {
		return err
	}

	fmt.Printf("public key: %s\n", id.PublicKey())
	fmt.Fprintf(os.Stderr, "saved encrypted identity to %s\n", path)
	return nil
}

func runImport(args []string) error {
	flags := pflag.NewFlagSet("import", pflag.ExitOnError)
	store := flags.String("store", "", "keystore path (default: from config)")
	passphraseFile := flags.String("passphrase-file", "", "read the passphrase from this file instead of prompting")
	secretFile := flags.String("secret-file", "", "file containing the hex secret key, or - for stdin (required)")
	force := flags.Bool("force", false, "overwrite an existing identity")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *secretFile == "" {
		flags.Usage()
		return fmt.Errorf("--secret-file is required")
	}

	path := storePath(*store)
	ks := keystore.New(path)
	exists, err := ks.Exists()
	if err != nil {
		return err
	}
	if exists && !*force {
		return fmt.Errorf("identity already exists at %s (use --force to overwrite)", path)
	}

	secretHex, err := secret.ReadFromPath(*secretFile)
	if err != nil {
		return fmt.Errorf("reading secret key file: %w", err)
	}
	id, err := identity.FromHex(secretHex.String())
	secretHex.Close()
	if err != nil {
		return err
	}
	defer id.Close()

	passphrase, err := readPassphrase(*passphraseFile, true)
	if err != nil {
		return err
	}
	defer passphrase.Close()

	if err := ks.Save(id, passphrase, time.Now()); err != nil {
		return err
	}

	fmt.Printf("public key: %s\n", id.PublicKey())
	fmt.Fprintf(os.Stderr, "saved encrypted identity to %s\n", path)
	return nil
}

func runShow(args []string) error {
	flags := pflag.NewFlagSet("show", pflag.ExitOnError)
	store := flags.String("store", "", "keystore path (default: from config)")
	passphraseFile := flags.String("passphrase-file", "", "read the passphrase from this file instead of prompting")
	revealSecret := flags.Bool("reveal-secret", false, "print the hex secret key to stdout")
	if err := flags.Parse(args); err != nil {
		return err
	}

	path := storePath(*store)
	ks := keystore.New(path)
	exists, err := ks.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no identity at %s (run 'indienet-keygen generate')", path)
	}

	passphrase, err := readPassphrase(*passphraseFile, false)
	if err != nil {
		return err
	}
	defer passphrase.Close()

	id, err := ks.Load(passphrase)
	if err != nil {
		return err
	}
	defer id.Close()

	fmt.Printf("store:      %s\n", filepath.Clean(path))
	fmt.Printf("public key: %s\n", id.PublicKey())

	if *revealSecret {
		secretKey, err := id.SecretKeyHex()
		if err != nil {
			return err
		}
		fmt.Printf("secret key: %s\n", secretKey)
	}
	return nil
}

func runDelete(args []string) error {
	flags := pflag.NewFlagSet("delete", pflag.ExitOnError)
	store := flags.String("store", "", "keystore path (default: from config)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	path := storePath(*store)
	if err := keystore.New(path).Delete(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "deleted identity at %s\n", path)
	return nil
}
