// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entries := []Entry{
		{Kind: KindRole, BaseName: "Policy", RemoteID: "r1", Folder: "sub1"},
		{Kind: KindManager, BaseName: "HR_MANAGER", StampedName: "HR_MANAGER.1 [m1 | ts]", RemoteID: "m1", Folder: "sub1"},
		{Kind: KindWorkflow, BaseName: "Onboarding", RemoteID: "wf1", Folder: "sub1"},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].RemoteID != "r1" || all[1].StampedName != "HR_MANAGER.1 [m1 | ts]" {
		t.Errorf("unexpected order or content: %+v", all)
	}
	if all[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt filled in")
	}

	managers, err := store.List(ctx, Filter{Kind: KindManager})
	if err != nil {
		t.Fatalf("List filtered failed: %v", err)
	}
	if len(managers) != 1 || managers[0].RemoteID != "m1" {
		t.Errorf("kind filter broken: %+v", managers)
	}
}

func TestRemove(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, Entry{Kind: KindRole, BaseName: "Policy", RemoteID: "r1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Remove(ctx, "r1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	left, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("expected empty ledger, got %+v", left)
	}
}
