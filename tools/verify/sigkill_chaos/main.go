//go:build ignore

// sigkill_chaos verifies that the atomic stores survive a crash mid-write.
// It re-executes itself as a writer that hammers the run store, next-up
// queue, snapshot, and outbox, SIGKILLs the writer at a random moment, and
// repeats. Afterwards every state file must parse cleanly and no corrupt
// backup may exist.
//
// Usage:
//
//	go run ./tools/verify/sigkill_chaos/main.go [-rounds 20]
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/filestore"
	"github.com/useorgx/openclaw-plugin/internal/orgx"
	"github.com/useorgx/openclaw-plugin/internal/outbox"
	"github.com/useorgx/openclaw-plugin/internal/persistence"
)

const childEnv = "SIGKILL_CHAOS_CHILD_DIR"

func main() {
	if dir := os.Getenv(childEnv); dir != "" {
		writeForever(dir)
		return
	}
	rounds := flag.Int("rounds", 20, "number of kill/verify rounds")
	flag.Parse()
	if err := run(*rounds); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS (sigkill_chaos)")
}

func run(rounds int) error {
	dir, err := os.MkdirTemp("", "sigkill-chaos-*")
	if err != nil {
		return fmt.Errorf("mktemp: %w", err)
	}
	defer os.RemoveAll(dir)

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate self: %w", err)
	}

	for i := 1; i <= rounds; i++ {
		child := exec.Command(self)
		child.Env = append(os.Environ(), childEnv+"="+dir)
		child.Stderr = os.Stderr
		if err := child.Start(); err != nil {
			return fmt.Errorf("start writer: %w", err)
		}
		time.Sleep(time.Duration(20+rand.IntN(180)) * time.Millisecond)
		if err := child.Process.Signal(syscall.SIGKILL); err != nil {
			return fmt.Errorf("sigkill: %w", err)
		}
		_ = child.Wait()

		if err := verify(dir); err != nil {
			return fmt.Errorf("round %d: %w", i, err)
		}
		fmt.Printf("ROUND %d ok\n", i)
	}
	return nil
}

// writeForever runs until killed.
func writeForever(dir string) {
	ctx := context.Background()
	store := persistence.Open(dir, nil)
	q := outbox.New(filepath.Join(dir, "outbox"), nil)
	for i := 0; ; i++ {
		_, _ = store.UpsertAgentRun(ctx, persistence.AgentRun{
			RunID:   fmt.Sprintf("run-%d", i%300),
			AgentID: fmt.Sprintf("agent-%d", i%7),
			Message: fmt.Sprintf("iteration %d", i),
		})
		_, _ = store.UpsertNextUpQueuePin(ctx, persistence.NextUpPin{
			InitiativeID: "i1",
			WorkstreamID: fmt.Sprintf("w%d", i%50),
		})
		_, _ = store.WritePersistedSnapshot(ctx, orgx.OrgSnapshot{
			Initiatives: []orgx.Initiative{{ID: "i1", Title: "chaos", Progress: i % 100}},
			SyncedAt:    time.Now().UTC(),
		})
		_, _ = q.Append(ctx, fmt.Sprintf("s%d", i%3), outbox.Event{ID: fmt.Sprintf("e-%d", i%40), Type: outbox.TypeProgress})
	}
}

// verify loads every file the writer touches, failing on anything other
// than a clean parse or a missing file.
func verify(dir string) error {
	files := []string{
		persistence.AgentRunsFile,
		persistence.NextUpQueueFile,
		persistence.SnapshotFile,
	}
	for _, name := range files {
		var v any
		res := filestore.Load(filepath.Join(dir, name), &v, filestore.LoadOptions{SkipBackup: true})
		if res.Status != filestore.Loaded && res.Status != filestore.Missing {
			return fmt.Errorf("%s: status %v: %v", name, res.Status, res.Err)
		}
	}
	outboxDir := filepath.Join(dir, "outbox")
	sessions, _ := filepath.Glob(filepath.Join(outboxDir, "*.json"))
	for _, path := range sessions {
		var v any
		res := filestore.Load(path, &v, filestore.LoadOptions{SkipBackup: true})
		if res.Status != filestore.Loaded && res.Status != filestore.Missing {
			return fmt.Errorf("%s: status %v: %v", filepath.Base(path), res.Status, res.Err)
		}
	}
	if backups := append(filestore.CorruptBackups(dir), filestore.CorruptBackups(outboxDir)...); len(backups) > 0 {
		return fmt.Errorf("corrupt backups present: %v", backups)
	}
	return nil
}
