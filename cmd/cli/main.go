package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/app"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/cli"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/hclconf"
)

// main is the entrypoint for the orchestration simulator.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling.
func run(outW io.Writer, args []string) (err error) {
	// The app panics on critical config errors, so we recover here to
	// surface a clean error to the user.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application startup panicked: %v", r)
		}
	}()

	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	loader := hclconf.NewLoader()
	orchestrator := app.NewApp(outW, appConfig, loader)

	return orchestrator.Run(context.Background(), appConfig)
}
