package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

// Output sinks; tests swap them.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func printUsage(w io.Writer) {
	name := "orgx-openclaw"
	fmt.Fprintf(w, `Usage of %[1]s:

  %[1]s daemon                  Poll the remote on sync_schedule, flush the outbox, hot-reload config.yaml
  %[1]s sync [-json]            Run one sync pass and print the result
  %[1]s status                  Show the cached org snapshot, agent runs, pins, and outbox backlog
  %[1]s report [options]        Deliver an activity event, or queue it in the outbox when offline
  %[1]s outbox <action>         Manage queued events
                                Actions: list [session], items, pending, flush, clear <session>
  %[1]s runs <action>           Manage agent runs
                                Actions: list, contexts, launch [options], stop <run-id>, clear
  %[1]s pins <action>           Manage the next-up queue
                                Actions: list, add [options], remove <initiative> <workstream>,
                                         order <initiative/workstream>..., clear
  %[1]s doctor [-json]          Run diagnostic checks
  %[1]s set-key [-user id] <key> Store the API key in config.yaml (empty key removes it)
  %[1]s version                 Print the version

ENVIRONMENT VARIABLES:
  ORGX_CONFIG_DIR         Config directory (default: ~/.config/useorgx/openclaw-plugin)
  ORGX_OUTBOX_DIR         Outbox directory (default: ~/.openclaw/orgx-outbox)
  ORGX_API_KEY            API key, overrides config.yaml
  ORGX_BASE_URL           Remote base URL, overrides config.yaml
`, name)
}

func main() {
	flag.Usage = func() {
		printUsage(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, flag.Args()))
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	rest := args[1:]
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	case "version":
		fmt.Fprintln(stdout, Version)
		return 0
	case "daemon":
		return runDaemonCommand(ctx, rest)
	case "sync":
		return runSyncCommand(ctx, rest)
	case "status":
		return runStatusCommand(ctx, rest)
	case "report":
		return runReportCommand(ctx, rest)
	case "outbox":
		return runOutboxCommand(ctx, rest)
	case "runs":
		return runRunsCommand(ctx, rest)
	case "pins":
		return runPinsCommand(ctx, rest)
	case "doctor":
		return runDoctorCommand(ctx, rest)
	case "set-key":
		return runSetKeyCommand(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}
}

// fatalStartup reports a startup failure as a structured line when no logger
// exists yet.
func fatalStartup(reasonCode string, err error) int {
	message := ""
	if err != nil {
		message = err.Error()
	}
	fmt.Fprintf(stderr,
		`{"timestamp":"%s","level":"ERROR","component":"plugin","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
		time.Now().UTC().Format(time.RFC3339Nano),
		reasonCode,
		message,
	)
	return 1
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
