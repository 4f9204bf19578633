// chatrelay - multi-provider AI chat backend. Entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/minjaeko/chatrelay/internal/infra/config"
	"github.com/minjaeko/chatrelay/internal/infra/sqlite"
	"github.com/minjaeko/chatrelay/internal/server"
	"github.com/minjaeko/chatrelay/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("chatrelay", flag.ContinueOnError)
	fs.SetOutput(errOut)

	configPath := fs.String("config", "", "Path to YAML config file")
	showVersion := fs.Bool("version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	}

	// Load a local .env if present; a missing file is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "chatrelay: %v\n", err)
		return 1
	}

	if err := serve(cfg); err != nil {
		fmt.Fprintf(errOut, "chatrelay: %v\n", err)
		return 1
	}
	return 0
}

func serve(cfg *config.Config) error {
	db, err := sqlite.NewDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	if err := sqlite.MigrateUp(db); err != nil {
		db.Close() //nolint:errcheck
		return err
	}

	srv, err := server.New(db, cfg)
	if err != nil {
		db.Close() //nolint:errcheck
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
