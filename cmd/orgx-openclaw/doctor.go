package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/bus"
	"github.com/useorgx/openclaw-plugin/internal/config"
	"github.com/useorgx/openclaw-plugin/internal/doctor"
	"github.com/useorgx/openclaw-plugin/internal/orgx"
	"github.com/useorgx/openclaw-plugin/internal/outbox"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	// Doctor loads config itself so a broken config.yaml is diagnosed
	// rather than fatal.
	opts := doctor.Options{Version: Version}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
	} else {
		opts.Config = &cfg
		opts.Outbox = outbox.New(cfg.OutboxDir, bus.New())
		opts.Remote = orgx.NewHTTPClient(orgx.Options{BaseURL: cfg.BaseURL, RequestTimeout: doctor.PingTimeout})
	}

	diag := doctor.Run(ctx, opts)

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(stderr, "Error encoding json: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stdout, "OrgX Plugin Doctor Report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(stdout, "System: %s/%s (%s) %s\n", diag.System.OS, diag.System.Arch, diag.System.Go, diag.System.Version)
	fmt.Fprintln(stdout, "---")

	for _, res := range diag.Results {
		icon := "✅"
		switch res.Status {
		case doctor.StatusFail:
			icon = "❌"
		case doctor.StatusWarn:
			icon = "⚠️ "
		case doctor.StatusSkip:
			icon = "⏩"
		}
		fmt.Fprintf(stdout, "%s %-16s: %s\n", icon, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Fprintf(stdout, "    %s\n", res.Detail)
		}
	}

	if diag.Failed() {
		return 1
	}
	return 0
}
