package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: engram admin <command> [options]

Commands:
  hash-key   Hash an API key for server.api_key_hash / ENGRAM_API_KEY_HASH
  help       Show this help message

Examples:
  engram admin hash-key
  engram admin hash-key --key my-secret-key
`)
}

// runAdminHashKey hashes an API key with bcrypt and prints the hash so it
// can be placed in the config file or environment.
func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	key := fs.String("key", "", "API key to hash (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	k := *key
	if k == "" {
		var err error
		k, err = promptSecret("API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		confirm, err := promptSecret("Confirm API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if k != confirm {
			return fmt.Errorf("keys do not match")
		}
	}
	if k == "" {
		return fmt.Errorf("API key must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(k), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
