// ABOUTME: Entry point for the vendas device CLI, daemon, TUI, and MCP server
// ABOUTME: Routes to the command named on the command line
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/harperreed/vendas/cli"
	"github.com/harperreed/vendas/config"
	"github.com/harperreed/vendas/logging"
	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/tui"
	"go.uber.org/zap"
)

const version = "0.2.0"

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "", "Config file (default: ~/.local/share/vendas/config.json)")
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("vendas version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	path := *configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	command := args[0]
	commandArgs := args[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session commands work before a session exists.
	if command == "session" {
		if len(commandArgs) == 0 {
			fmt.Println("Error: session requires a subcommand")
			printUsage()
			os.Exit(1)
		}
		switch commandArgs[0] {
		case "set":
			err = cli.SessionSetCommand(cfg, path, commandArgs[1:], os.Stdin, os.Stdout)
		case "show":
			err = cli.SessionShowCommand(cfg, os.Stdout)
		default:
			fmt.Printf("Unknown session command: %s\n\n", commandArgs[0])
			printUsage()
			os.Exit(1)
		}
		exitOnError(err)
		return
	}

	format := cfg.LogFormat
	if command == "serve" {
		format = logging.FormatJSON
	}
	logger := logging.Must(cfg.LogLevel, format)
	if command == "tui" {
		// Log lines would tear the alternate screen.
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	app, err := cli.Open(cfg, logger)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer app.Close()

	switch command {
	case "mcp":
		err = cli.MCPCommand(ctx, app, version)

	case "serve":
		err = cli.ServeCommand(ctx, app, commandArgs)

	case "tui":
		err = tui.Run(tui.NewModel(app.Queue, app.Sync, cfg.Session))

	case "order":
		err = route(ctx, app, "order", commandArgs, map[string]subcommand{
			"add":      cli.OrderAddCommand,
			"evaluate": cli.OrderEvaluateCommand,
		})

	case "queue":
		err = route(ctx, app, "queue", commandArgs, map[string]subcommand{
			"list":  cli.QueueListCommand,
			"count": cli.QueueCountCommand,
			"drain": cli.QueueDrainCommand,
			"retry": cli.QueueRetryCommand,
			"ack":   cli.QueueAckCommand,
			"purge": cli.QueuePurgeCommand,
		})

	case "approval":
		err = route(ctx, app, "approval", commandArgs, map[string]subcommand{
			"list":    cli.ApprovalListCommand,
			"respond": cli.ApprovalRespondCommand,
		})

	case "sync":
		err = route(ctx, app, "sync", commandArgs, map[string]subcommand{
			"now":    cli.SyncNowCommand,
			"status": cli.SyncStatusCommand,
		})

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	exitOnError(err)
}

type subcommand func(ctx context.Context, a *cli.App, args []string) error

func route(ctx context.Context, app *cli.App, group string, args []string, commands map[string]subcommand) error {
	if len(args) == 0 {
		fmt.Printf("Error: %s requires a subcommand\n\n", group)
		printUsage()
		os.Exit(1)
	}
	run, ok := commands[args[0]]
	if !ok {
		fmt.Printf("Unknown %s command: %s\n\n", group, args[0])
		printUsage()
		os.Exit(1)
	}
	return run(ctx, app, args[1:])
}

func exitOnError(err error) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return
	case errors.Is(err, models.ErrStaleReferenceData):
		// The command already printed which tables are stale.
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`vendas v%s - Offline sales order sync for field sellers

USAGE:
  vendas [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --config <path>        Config file (default: ~/.local/share/vendas/config.json)

COMMANDS:
  session                Sign in to the ERP gateway
  order                  Evaluate and queue orders
  queue                  Inspect and drain the offline order queue
  approval               Policy exception approvals
  sync                   Reference data sync
  serve                  Run the local API, connectivity prober, and purge loop
  tui                    Interactive queue view
  mcp                    Start MCP server for Claude Desktop

SESSION COMMANDS:
  vendas session set        Save the session; the token is read from stdin
    --user <id>               User ID (required)
    --company <id>            Company ID (required)
    --name <name>             Display name
    --role <role>             SELLER or MANAGER (default: SELLER)
    --seller-code <code>      Seller code on the ERP
    --gateway <url>           Gateway base URL
    --no-token                Keep the stored token

  vendas session show       Show the saved session

ORDER COMMANDS:
  vendas order evaluate     Show totals and policy violations
    --file <path>             Order JSON file, or - for stdin (required)

  vendas order add          Queue an order
    --file <path>             Order JSON file, or - for stdin (required)
    --approver <id>           Approver for a policy exception
    --justification <text>    Why the exception is needed

QUEUE COMMANDS:
  vendas queue list         List queued orders
    --status <list>           Comma separated statuses
  vendas queue count        Count orders per status
  vendas queue drain        Send pending orders now
  vendas queue retry        Requeue failed orders and send them
    --all                     Also retry orders the server rejected
  vendas queue ack <id>     Remove a confirmed order
  vendas queue purge        Remove confirmed orders past retention

APPROVAL COMMANDS:
  vendas approval list      List approval requests
  vendas approval respond [flags] <id>
    --status <status>         APROVADO or REJEITADO (required)
    --justification <text>    Reason for the decision

SYNC COMMANDS:
  vendas sync now           Refresh every reference table
  vendas sync status        Show the last sync and record counts

DAEMON:
  vendas serve              Local API on 127.0.0.1:8765
    --addr <addr>             Listen address
    --no-probe                Take connectivity from POST /api/connectivity

EXAMPLES:
  # Sign in as the demo seller
  echo dev-seller | vendas session set --user u-vend --company c1

  # Pull reference data, then queue and send an order
  vendas sync now
  vendas order add --file order.json
  vendas queue drain

`, version)
}
