package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/bus"
	"github.com/useorgx/openclaw-plugin/internal/config"
	"github.com/useorgx/openclaw-plugin/internal/outbox"
	"github.com/useorgx/openclaw-plugin/internal/persistence"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func setup(t *testing.T) (*config.Config, *outbox.Queue) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cfg")
	if err := config.SetAPIKey(dir, "oxk_test"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	cfg, err := config.LoadFrom(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return &cfg, outbox.New(filepath.Join(t.TempDir(), "outbox"), bus.New())
}

func resultByName(t *testing.T, d Diagnosis, name string) CheckResult {
	t.Helper()
	for _, r := range d.Results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no %q check in %+v", name, d.Results)
	return CheckResult{}
}

func TestRun_Healthy(t *testing.T) {
	cfg, q := setup(t)
	store := persistence.Open(cfg.ConfigDir, nil)
	if _, err := store.UpsertAgentContext(context.Background(), persistence.AgentLaunchContext{AgentID: "a1"}); err != nil {
		t.Fatal(err)
	}

	d := Run(context.Background(), Options{
		Config:  cfg,
		Outbox:  q,
		Remote:  pingFunc(func(context.Context) error { return nil }),
		Version: "test",
	})
	if d.Failed() {
		t.Fatalf("unexpected failure: %+v", d.Results)
	}
	for _, r := range d.Results {
		if r.Status != StatusPass {
			t.Errorf("%s = %s (%s)", r.Name, r.Status, r.Message)
		}
	}
	if d.System.Version != "test" {
		t.Fatalf("version = %q", d.System.Version)
	}
}

func TestRun_NilConfig(t *testing.T) {
	d := Run(context.Background(), Options{})
	if got := resultByName(t, d, "Config"); got.Status != StatusFail {
		t.Fatalf("Config = %+v", got)
	}
	for _, name := range []string{"API Key", "Config Dir", "Store Files", "Outbox", "Remote"} {
		if got := resultByName(t, d, name); got.Status != StatusSkip {
			t.Errorf("%s = %s, want SKIP", name, got.Status)
		}
	}
}

func TestCheckAPIKey_Missing(t *testing.T) {
	cfg := &config.Config{}
	if got := checkAPIKey(context.Background(), Options{Config: cfg}); got.Status != StatusWarn {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestCheckConfigDirMode_Loose(t *testing.T) {
	cfg, _ := setup(t)
	if err := os.Chmod(cfg.ConfigDir, 0o755); err != nil {
		t.Fatal(err)
	}
	got := checkConfigDirMode(context.Background(), Options{Config: cfg})
	if got.Status != StatusFail || !strings.Contains(got.Message, "755") {
		t.Fatalf("got %+v", got)
	}
}

func TestCheckStoreFileModes_Loose(t *testing.T) {
	cfg, _ := setup(t)
	path := filepath.Join(cfg.ConfigDir, persistence.AgentRunsFile)
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	got := checkStoreFileModes(context.Background(), Options{Config: cfg})
	if got.Status != StatusFail || !strings.Contains(got.Detail, persistence.AgentRunsFile) {
		t.Fatalf("got %+v", got)
	}
}

func TestCheckCorruptBackups(t *testing.T) {
	cfg, q := setup(t)
	if err := os.WriteFile(filepath.Join(cfg.ConfigDir, persistence.NextUpQueueFile), []byte("{oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := persistence.Open(cfg.ConfigDir, nil)
	store.ReadNextUpQueue(context.Background())

	got := checkCorruptBackups(context.Background(), Options{Config: cfg, Outbox: q})
	if got.Status != StatusWarn || !strings.Contains(got.Detail, persistence.NextUpQueueFile+".corrupt.") {
		t.Fatalf("got %+v", got)
	}
}

func TestCheckOutbox_Backlog(t *testing.T) {
	cfg, q := setup(t)
	ctx := context.Background()
	if _, err := q.Append(ctx, "s1", outbox.Event{ID: "e1", Type: outbox.TypeProgress}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Append(ctx, "s2", outbox.Event{ID: "e2", Type: outbox.TypeDecision}); err != nil {
		t.Fatal(err)
	}
	got := checkOutbox(ctx, Options{Config: cfg, Outbox: q})
	if got.Status != StatusWarn || !strings.Contains(got.Message, "2 event(s) queued across 2 session(s)") {
		t.Fatalf("got %+v", got)
	}
}

func TestCheckRemote(t *testing.T) {
	ctx := context.Background()

	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	if got := checkRemote(ctx, Options{Remote: down}); got.Status != StatusFail {
		t.Fatalf("down = %+v", got)
	}

	slow := pingFunc(func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok || time.Until(deadline) > PingTimeout {
			t.Errorf("ping context not bounded by %s", PingTimeout)
		}
		return context.DeadlineExceeded
	})
	got := checkRemote(ctx, Options{Remote: slow})
	if got.Status != StatusFail || !strings.Contains(got.Message, "No response") {
		t.Fatalf("slow = %+v", got)
	}
}
