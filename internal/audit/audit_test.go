package audit

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func readTrail(t *testing.T, dir string) []Entry {
	t.Helper()
	raw, err := os.ReadFile(Path(dir))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var out []Entry
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("unmarshal audit entry: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestRecordWritesAuditEntry(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	before := DropCount()
	Record(Entry{Action: ActionEventDropped, SessionID: "s1", EventID: "e1", Reason: "status 422"})
	Record(Entry{Action: ActionKeySet, Subject: "config.yaml"})

	entries := readTrail(t, dir)
	if len(entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(entries))
	}
	first := entries[0]
	if first.Action != ActionEventDropped || first.SessionID != "s1" || first.EventID != "e1" {
		t.Fatalf("first entry = %+v", first)
	}
	if first.Timestamp == "" {
		t.Fatal("expected timestamp")
	}
	if got := DropCount() - before; got != 1 {
		t.Fatalf("drop count delta = %d, want 1", got)
	}

	info, err := os.Stat(Path(dir))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("audit file mode = %o", info.Mode().Perm())
	}
}

func TestAuditAppendOnly(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(Entry{Action: ActionEventRejected, EventID: "e1"})
	info1, err := os.Stat(Path(dir))
	if err != nil {
		t.Fatalf("stat audit file: %v", err)
	}

	Record(Entry{Action: ActionEventRejected, EventID: "e2"})
	info2, err := os.Stat(Path(dir))
	if err != nil {
		t.Fatalf("stat audit file after append: %v", err)
	}
	if info2.Size() <= info1.Size() {
		t.Fatalf("expected file to grow, size before=%d after=%d", info1.Size(), info2.Size())
	}

	entries := readTrail(t, dir)
	if len(entries) != 2 || entries[0].EventID != "e1" || entries[1].EventID != "e2" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestRecordRedacts(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(Entry{Action: ActionEventRejected, Reason: "echoed header Bearer abcdefghijklmnopqrstuvwxyz"})
	if got := readTrail(t, dir)[0].Reason; strings.Contains(got, "abcdefghijklmnop") {
		t.Fatalf("reason not redacted: %q", got)
	}
}

func TestRecordWithoutInit(t *testing.T) {
	_ = Close()
	before := DropCount()
	Record(Entry{Action: ActionEventDropped})
	if DropCount() != before+1 {
		t.Fatal("drops are counted even without a trail file")
	}
}
