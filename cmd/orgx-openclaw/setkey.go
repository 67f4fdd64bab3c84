package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/useorgx/openclaw-plugin/internal/audit"
	"github.com/useorgx/openclaw-plugin/internal/config"
)

func runSetKeyCommand(_ context.Context, args []string) int {
	fs := newFlagSet("set-key")
	userID := fs.String("user", "", "also store this user id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(stderr, "usage: orgx-openclaw set-key [-user id] <key>")
		return 2
	}
	key := strings.TrimSpace(fs.Arg(0))

	dir := config.ConfigDir()
	if err := config.SetAPIKey(dir, key); err != nil {
		fmt.Fprintf(stderr, "set-key: %v\n", err)
		return 1
	}
	if *userID != "" {
		if err := config.SetUserID(dir, *userID); err != nil {
			fmt.Fprintf(stderr, "set-key: %v\n", err)
			return 1
		}
	}
	action := audit.ActionKeySet
	if key == "" {
		action = audit.ActionKeyRemoved
	}
	if err := audit.Init(dir); err == nil {
		audit.Record(audit.Entry{Action: action, Subject: config.ConfigPath(dir)})
		_ = audit.Close()
	}
	if key == "" {
		fmt.Fprintf(stdout, "removed api_key from %s\n", config.ConfigPath(dir))
	} else {
		fmt.Fprintf(stdout, "saved api_key to %s\n", config.ConfigPath(dir))
	}
	return 0
}
