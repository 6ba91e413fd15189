// Package main is the pinsession command-line tool for inspecting and
// maintaining stored Pinterest sessions.
//
// Usage:
//
//	pinsession list                     list stored accounts
//	pinsession show <account>           show a stored cookie set
//	pinsession import <account> <file>  store a cookie set from a file or stdin
//	pinsession cleanup [days]           remove sessions older than days
//	pinsession retain                   run cleanup periodically until interrupted
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/pinsession/pinsession/internal/config"
	"github.com/pinsession/pinsession/internal/observability"
	"github.com/pinsession/pinsession/internal/storage"
)

const (
	version = "0.1.0"
	appName = "pinsession"
)

// cli carries the process streams so commands can be tested in-process.
type cli struct {
	stdin  io.Reader
	in     *bufio.Reader
	stdout io.Writer
	stderr io.Writer
	cfg    config.Config
	logger *observability.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "%s v%s\n", appName, version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	}

	handler, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(stderr, "unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	c := &cli{
		stdin:  stdin,
		in:     bufio.NewReader(stdin),
		stdout: stdout,
		stderr: stderr,
		cfg:    cfg,
		logger: observability.NewLogger(appName, stderr, cfg.LogLevel),
	}
	if err := c.resolveKey(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := handler(ctx, c, rest); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if _, isUsage := err.(usageError); isUsage {
			return 2
		}
		return 1
	}
	return 0
}

// usageError marks an error caused by bad arguments.
type usageError string

func (e usageError) Error() string { return string(e) }

var commands = map[string]func(context.Context, *cli, []string) error{
	"list":    cmdList,
	"show":    cmdShow,
	"import":  cmdImport,
	"delete":  cmdDelete,
	"cleanup": cmdCleanup,
	"stats":   cmdStats,
	"migrate": cmdMigrate,
	"retain":  cmdRetain,
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `%s v%s: stored Pinterest session maintenance

Usage:
  %s <command> [arguments]

Commands:
  list                         List stored accounts, most recent first
  show <account> [--reveal]    Show a stored cookie set (values masked)
  import <account> <file|->    Store a cookie set read from a file or stdin
  delete <account>             Remove a stored session
  cleanup [days]               Remove sessions older than days (default: retention)
  stats                        Print entry count and storage size
  migrate <from> <to>          Copy sessions between backends (sqlite, file, postgres)
  retain [--stop]              Run cleanup every interval until interrupted
  version                      Print version

Environment variables:
  PINSESSION_DIR               Storage directory (default: ~/.n8n/pinterest-cookies)
  PINSESSION_BACKEND           sqlite, file or postgres (default: sqlite)
  PINSESSION_DATABASE_URL      PostgreSQL URL for the postgres backend
  PINSESSION_RETENTION_DAYS    Retention window in days (default: 30)
  PINSESSION_CLEANUP_INTERVAL  Interval for retain (default: 24h)
  PINSESSION_ENCRYPTION_KEY    Passphrase sealing stored cookies
  PINSESSION_PROMPT_KEY        Ask for the passphrase on the terminal
  PINSESSION_LOG_LEVEL         debug, info, warn or error (default: info)

`, appName, version, appName)
}

// resolveKey asks for the encryption passphrase when configured to.
func (c *cli) resolveKey() error {
	if !c.cfg.PromptKey || c.cfg.EncryptionKey != "" {
		return nil
	}
	fmt.Fprint(c.stderr, "Encryption passphrase: ")
	key := readSecretLine(c.stdin, c.in)
	fmt.Fprintln(c.stderr)
	if key == "" {
		return fmt.Errorf("no passphrase entered")
	}
	c.cfg.EncryptionKey = key
	return nil
}

// readSecretLine reads a line without echo when raw is a terminal, and from
// the buffered reader otherwise.
func readSecretLine(raw io.Reader, br *bufio.Reader) string {
	if f, ok := raw.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(secret))
		}
	}

	line, _ := br.ReadString('\n')
	return strings.TrimSpace(line)
}

func (c *cli) openStore(ctx context.Context) (*storage.Store, error) {
	return config.Open(ctx, c.cfg, c.logger, nil)
}
