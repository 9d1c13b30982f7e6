package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type testDocument struct {
	OwnerID string `json:"ownerID"`
	Status  string `json:"status"`
}

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.AutoMigrate(&Node{}); err != nil {
		t.Fatalf("failed to migrate store schema: %v", err)
	}
	clockValue := time.Unix(1700000000, 0)
	store, err := New(Config{
		Database: database,
		Clock: func() time.Time {
			clockValue = clockValue.Add(time.Millisecond)
			return clockValue
		},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func TestSetThenGetRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "calls/c1", testDocument{OwnerID: "owner-1", Status: "ringing"}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	var loaded testDocument
	found, err := store.Get(ctx, "calls/c1", &loaded)
	if err != nil || !found {
		t.Fatalf("expected document, found=%v err=%v", found, err)
	}
	if loaded.Status != "ringing" || loaded.OwnerID != "owner-1" {
		t.Fatalf("unexpected document %#v", loaded)
	}

	found, err = store.Get(ctx, "calls/missing", &loaded)
	if err != nil || found {
		t.Fatalf("expected absent document, found=%v err=%v", found, err)
	}
}

func TestUpdateMergesAndDeletesFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Update(ctx, "doors/d1", map[string]any{"claimed": false, "status": "unclaimed"}); err != nil {
		t.Fatalf("update on absent path failed: %v", err)
	}
	if err := store.Update(ctx, "doors/d1", map[string]any{"status": "active", "claimed": nil}); err != nil {
		t.Fatalf("merge update failed: %v", err)
	}
	var loaded map[string]any
	if _, err := store.Get(ctx, "doors/d1", &loaded); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded["status"] != "active" {
		t.Fatalf("expected merged status, got %#v", loaded)
	}
	if _, ok := loaded["claimed"]; ok {
		t.Fatalf("expected nil field to be deleted, got %#v", loaded)
	}
}

func TestRemoveDeletesSubtreeOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	paths := []string{"users/a_b/doorbells/d1", "users/a_b/doorbells/d2", "users/aXb/doorbells/d3", "users/a_bc/doorbells/d4"}
	for _, path := range paths {
		if err := store.Set(ctx, path, map[string]any{"doorID": Key(path)}); err != nil {
			t.Fatalf("set %s failed: %v", path, err)
		}
	}
	if err := store.Remove(ctx, "users/a_b"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := store.Remove(ctx, "users/a_b"); err != nil {
		t.Fatalf("second remove must be idempotent: %v", err)
	}

	remaining, err := store.Children(ctx, "users/aXb/doorbells")
	if err != nil || len(remaining) != 1 {
		t.Fatalf("expected sibling subtree to survive, got %d err=%v", len(remaining), err)
	}
	remaining, err = store.Children(ctx, "users/a_bc/doorbells")
	if err != nil || len(remaining) != 1 {
		t.Fatalf("expected prefix-sharing subtree to survive, got %d err=%v", len(remaining), err)
	}
	removed, err := store.Children(ctx, "users/a_b/doorbells")
	if err != nil || len(removed) != 0 {
		t.Fatalf("expected removed subtree to be empty, got %d err=%v", len(removed), err)
	}
}

func TestChildrenPreserveInsertionOrderAcrossOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"c3", "c1", "c2"} {
		if err := store.Set(ctx, Join("calls", key), testDocument{OwnerID: "owner-1", Status: "ringing"}); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}
	if err := store.Set(ctx, "calls/c3", testDocument{OwnerID: "owner-1", Status: "ended"}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	children, err := store.Children(ctx, "calls")
	if err != nil {
		t.Fatalf("children failed: %v", err)
	}
	got := []string{}
	for _, child := range children {
		got = append(got, child.Key)
	}
	if len(got) != 3 || got[0] != "c3" || got[1] != "c1" || got[2] != "c2" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestQueryChildrenByField(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	documents := map[string]testDocument{
		"calls/c1": {OwnerID: "owner-1", Status: "ringing"},
		"calls/c2": {OwnerID: "owner-2", Status: "ringing"},
		"calls/c3": {OwnerID: "owner-1", Status: "ended"},
	}
	for _, path := range []string{"calls/c1", "calls/c2", "calls/c3"} {
		if err := store.Set(ctx, path, documents[path]); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}

	byOwner, err := store.QueryChildrenByField(ctx, "calls", "ownerID", "owner-1")
	if err != nil {
		t.Fatalf("indexed query failed: %v", err)
	}
	if len(byOwner) != 2 || byOwner[0].Key != "c1" || byOwner[1].Key != "c3" {
		t.Fatalf("unexpected indexed results %#v", byOwner)
	}

	byStatus, err := store.QueryChildrenByField(ctx, "calls", "status", "ringing")
	if err != nil {
		t.Fatalf("scan query failed: %v", err)
	}
	if len(byStatus) != 2 {
		t.Fatalf("expected two ringing calls, got %d", len(byStatus))
	}
	var decoded testDocument
	if err := byStatus[1].Decode(&decoded); err != nil || decoded.OwnerID != "owner-2" {
		t.Fatalf("unexpected decoded record %#v err=%v", decoded, err)
	}
}

func TestAtomicRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Atomic(ctx, func(tx Store) error {
		if err := tx.Set(ctx, "doors/d1", map[string]any{"claimed": true}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	found, err := store.Get(ctx, "doors/d1", nil)
	if err != nil || found {
		t.Fatalf("expected rolled back write, found=%v err=%v", found, err)
	}
}

func TestReindexBackfillsIndexColumn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "calls/c1", testDocument{OwnerID: "owner-1"}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.db.Model(&Node{}).Where("path = ?", "calls/c1").Update("index_value", "").Error; err != nil {
		t.Fatalf("failed to clear index: %v", err)
	}

	changed, err := store.Reindex(ctx)
	if err != nil {
		t.Fatalf("reindex failed: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected one reindexed row, got %d", changed)
	}
	records, err := store.QueryChildrenByField(ctx, "calls", DefaultIndexField, "owner-1")
	if err != nil || len(records) != 1 {
		t.Fatalf("expected indexed lookup to succeed, got %d err=%v", len(records), err)
	}
}

func TestJoinEscapesSeparators(t *testing.T) {
	path := Join("pushTokens", "owner/1", "tok:en")
	if path != "pushTokens/owner%2F1/tok:en" {
		t.Fatalf("unexpected joined path %q", path)
	}
	if Key(path) != "tok:en" {
		t.Fatalf("unexpected key %q", Key(path))
	}
	if Key(Join("a", "x/y")) != "x/y" {
		t.Fatalf("expected escaped separator to round-trip")
	}
}
