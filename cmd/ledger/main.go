package main

import (
	"context"
	"fmt"
	"os"

	"ledger/internal/cli"
	ledgerlog "ledger/internal/log"
)

const usage = `usage: ledger <command> <action> [flags]

commands:
  account   create|list|show|rename|delete|rebase
  category  create|list|rename|delete
  tx        add|update|delete|list|show
  transfer  create|update|delete|show
  reconcile [-account N] [-check] [-async]

Run "ledger <command> <action> -h" for the flags of an action.
`

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, ledgerlog.ComponentCLI).Logger

	ctx := context.Background()
	result := cli.InitBackend(ctx, logger, cfg)

	app := &App{ledger: result.Ledger, out: os.Stdout}
	if result.AMQP != nil {
		app.requester = result.AMQP
	}

	err := app.Run(ctx, os.Args[1:])
	if cerr := result.Cleanup(); cerr != nil {
		logger.Warn("Failed to close ledger backend", "error", cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledger:", err)
		os.Exit(exitCode(err))
	}
}
