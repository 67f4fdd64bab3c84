package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/useorgx/openclaw-plugin/internal/orgx"
)

func testSnapshot() orgx.OrgSnapshot {
	return orgx.OrgSnapshot{
		Initiatives:      []orgx.Initiative{{ID: "i1", Title: "Launch", Status: "active", Progress: 40}},
		Agents:           []orgx.Agent{{ID: "a1", Name: "Writer", Status: "running", InitiativeID: "i1"}},
		ActiveTasks:      []orgx.Task{{ID: "t1", Title: "Draft", Status: "in_progress", InitiativeID: "i1", WorkstreamID: "w1"}},
		PendingDecisions: []orgx.Decision{{ID: "d1", Title: "Pick a name", Status: "pending"}},
		SyncedAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPersistedSnapshot_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if s.ReadPersistedSnapshot(ctx) != nil {
		t.Fatal("expected nil before first write")
	}
	written, err := s.WritePersistedSnapshot(ctx, testSnapshot())
	if err != nil {
		t.Fatalf("WritePersistedSnapshot: %v", err)
	}
	got := s.ReadPersistedSnapshot(ctx)
	if got == nil {
		t.Fatal("snapshot missing after write")
	}
	if diff := cmp.Diff(written, *got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	assertMode(t, filepath.Join(s.Dir(), SnapshotFile), 0o600)
}

func TestPersistedSnapshot_ReplacesWholesale(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.WritePersistedSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WritePersistedSnapshot(ctx, orgx.OrgSnapshot{Initiatives: []orgx.Initiative{{ID: "i2"}}}); err != nil {
		t.Fatal(err)
	}
	got := s.ReadPersistedSnapshot(ctx)
	if got == nil || len(got.Snapshot.Initiatives) != 1 || got.Snapshot.Initiatives[0].ID != "i2" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if len(got.Snapshot.Agents) != 0 || len(got.Snapshot.ActiveTasks) != 0 {
		t.Fatal("fields from the previous snapshot leaked through")
	}
}

func TestReadPersistedSnapshot_ShapeMismatch(t *testing.T) {
	cases := map[string]string{
		"array":             `[1,2,3]`,
		"missing snapshot":  `{"updatedAt":"2026-01-01T00:00:00Z"}`,
		"numeric updatedAt": `{"updatedAt":12,"snapshot":{}}`,
		"snapshot string":   `{"updatedAt":"x","snapshot":"nope"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			s, _ := newTestStore(t)
			if err := os.WriteFile(filepath.Join(s.Dir(), SnapshotFile), []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if got := s.ReadPersistedSnapshot(context.Background()); got != nil {
				t.Fatalf("expected nil, got %+v", got)
			}
		})
	}
}

func TestClearPersistedSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.WritePersistedSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	s.ClearPersistedSnapshot()
	if s.ReadPersistedSnapshot(ctx) != nil {
		t.Fatal("snapshot survived clear")
	}
}
