// Package doctor runs local diagnostics over the plugin's config dir, store
// files, outbox, and remote reachability.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/config"
	"github.com/useorgx/openclaw-plugin/internal/filestore"
	"github.com/useorgx/openclaw-plugin/internal/outbox"
	"github.com/useorgx/openclaw-plugin/internal/persistence"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

// PingTimeout bounds the remote reachability check.
const PingTimeout = 3 * time.Second

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Pinger is the reachability probe; *orgx.HTTPClient satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Config  *config.Config
	Outbox  *outbox.Queue
	Remote  Pinger
	Version string
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, opts Options) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: opts.Version,
		},
	}

	checks := []func(context.Context, Options) CheckResult{
		checkConfig,
		checkAPIKey,
		checkConfigDirMode,
		checkStoreFileModes,
		checkCorruptBackups,
		checkOutbox,
		checkRemote,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, opts))
	}
	return d
}

func checkConfig(_ context.Context, opts Options) CheckResult {
	cfg := opts.Config
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if cfg.NeedsSetup {
		return CheckResult{Name: "Config", Status: StatusWarn, Message: fmt.Sprintf("No %s in %s (using defaults)", config.FileName, cfg.ConfigDir)}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.ConfigDir))}
}

func checkAPIKey(_ context.Context, opts Options) CheckResult {
	if opts.Config == nil {
		return CheckResult{Name: "API Key", Status: StatusSkip, Message: "Config missing"}
	}
	if opts.Config.Configured() {
		return CheckResult{Name: "API Key", Status: StatusPass, Message: "API key is set"}
	}
	return CheckResult{
		Name:    "API Key",
		Status:  StatusWarn,
		Message: "API key not set; running offline",
		Detail:  "Run `orgx-openclaw set-key <key>` or set ORGX_API_KEY",
	}
}

func checkConfigDirMode(_ context.Context, opts Options) CheckResult {
	if opts.Config == nil {
		return CheckResult{Name: "Config Dir", Status: StatusSkip, Message: "Config missing"}
	}
	dir := opts.Config.ConfigDir
	info, err := os.Stat(dir)
	if err != nil {
		return CheckResult{Name: "Config Dir", Status: StatusFail, Message: fmt.Sprintf("Stat failed: %v", err)}
	}
	if perm := info.Mode().Perm(); perm != filestore.DirPerm {
		return CheckResult{
			Name:    "Config Dir",
			Status:  StatusFail,
			Message: fmt.Sprintf("%s has mode %o, want %o", dir, perm, filestore.DirPerm),
			Detail:  fmt.Sprintf("chmod 700 %s", dir),
		}
	}
	return CheckResult{Name: "Config Dir", Status: StatusPass, Message: "Owner-only access"}
}

func checkStoreFileModes(_ context.Context, opts Options) CheckResult {
	if opts.Config == nil {
		return CheckResult{Name: "Store Files", Status: StatusSkip, Message: "Config missing"}
	}
	names := []string{
		config.FileName,
		persistence.AgentRunsFile,
		persistence.AgentContextsFile,
		persistence.NextUpQueueFile,
		persistence.SnapshotFile,
	}
	var loose []string
	present := 0
	for _, name := range names {
		info, err := os.Stat(filepath.Join(opts.Config.ConfigDir, name))
		if err != nil {
			continue
		}
		present++
		if perm := info.Mode().Perm(); perm != filestore.FilePerm {
			loose = append(loose, fmt.Sprintf("%s=%o", name, perm))
		}
	}
	if len(loose) > 0 {
		return CheckResult{
			Name:    "Store Files",
			Status:  StatusFail,
			Message: fmt.Sprintf("%d file(s) readable beyond the owner", len(loose)),
			Detail:  strings.Join(loose, ", "),
		}
	}
	return CheckResult{Name: "Store Files", Status: StatusPass, Message: fmt.Sprintf("%d file(s) owner-only", present)}
}

func checkCorruptBackups(_ context.Context, opts Options) CheckResult {
	var backups []string
	if opts.Config != nil {
		backups = append(backups, filestore.CorruptBackups(opts.Config.ConfigDir)...)
	}
	if opts.Outbox != nil {
		backups = append(backups, filestore.CorruptBackups(opts.Outbox.Dir())...)
	}
	if len(backups) == 0 {
		return CheckResult{Name: "Corrupt Backups", Status: StatusPass, Message: "None found"}
	}
	return CheckResult{
		Name:    "Corrupt Backups",
		Status:  StatusWarn,
		Message: fmt.Sprintf("%d corrupt file backup(s) found", len(backups)),
		Detail:  strings.Join(backups, ", "),
	}
}

func checkOutbox(ctx context.Context, opts Options) CheckResult {
	if opts.Outbox == nil {
		return CheckResult{Name: "Outbox", Status: StatusSkip, Message: "Outbox not configured"}
	}
	sessions := opts.Outbox.Sessions()
	pending := opts.Outbox.Pending(ctx)
	if pending == 0 {
		return CheckResult{Name: "Outbox", Status: StatusPass, Message: "No queued events"}
	}
	return CheckResult{
		Name:    "Outbox",
		Status:  StatusWarn,
		Message: fmt.Sprintf("%d event(s) queued across %d session(s)", pending, len(sessions)),
		Detail:  "Run `orgx-openclaw outbox flush` once online",
	}
}

func checkRemote(ctx context.Context, opts Options) CheckResult {
	if opts.Remote == nil {
		return CheckResult{Name: "Remote", Status: StatusSkip, Message: "No client"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	start := time.Now()
	err := opts.Remote.Ping(pingCtx)
	latency := time.Since(start)
	if err != nil {
		msg := fmt.Sprintf("Unreachable: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("No response within %s", PingTimeout)
		}
		return CheckResult{Name: "Remote", Status: StatusFail, Message: msg}
	}
	return CheckResult{Name: "Remote", Status: StatusPass, Message: fmt.Sprintf("Reachable (%dms)", latency.Milliseconds())}
}
