// Command portalctl is a terminal client for the neighborhood portal API.
//
// Usage:
//
//	portalctl [flags] <command> [arguments]
//
// The session obtained by login or verify is kept in a file between
// invocations. Run "portalctl help" for the command list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/example/neighborhood-portal/internal/config"
	"github.com/example/neighborhood-portal/internal/logging"
	"github.com/example/neighborhood-portal/internal/portalclient"
	"github.com/example/neighborhood-portal/internal/session"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "portalctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("portalctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		apiURL      = fs.String("api", cfg.APIBaseURL, "Portal API base URL (PORTAL_API_URL)")
		sessionPath = fs.String("session-file", defaultSessionFile(), "Where the signed-in session is kept")
		timeout     = fs.Duration("timeout", cfg.RequestTimeout, "Per-request timeout (PORTAL_REQUEST_TIMEOUT)")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: portalctl [flags] <command> [arguments]")
		fs.PrintDefaults()
		printCommands(stderr)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	if name == "help" {
		printCommands(stdout)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		printCommands(stderr)
		return errUsage
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	store := session.NewStore()
	files := sessionFile(*sessionPath)
	if err := files.load(store); err != nil {
		return err
	}

	client, err := portalclient.NewWithLogger(*apiURL, store, &http.Client{Timeout: *timeout}, logger)
	if err != nil {
		return err
	}

	c := &cli{
		client: client,
		store:  store,
		files:  files,
		cfg:    cfg,
		in:     stdin,
		out:    stdout,
		logger: logger,
	}
	runErr := cmd.run(ctx, c, rest)
	if errors.Is(runErr, errUsage) {
		fmt.Fprintf(stderr, "usage: portalctl %s %s\n", name, cmd.usage)
	}
	if err := files.save(store); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".portalctl-session.json"
	}
	return filepath.Join(dir, "portalctl", "session.json")
}
