package store

import (
	"context"
	"errors"
	"testing"

	"github.com/ziyic8/mp3/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisStore_PutGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id := NewID()
	doc := model.Document{"_id": id, "name": "Alice", "completed": false}
	if err := s.Put(ctx, "users", id, doc); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, "users", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.String("name") != "Alice" {
		t.Fatalf("expected name Alice, got %v", got["name"])
	}
	if got.Bool("completed") {
		t.Fatalf("expected completed=false")
	}
}

func TestRedisStore_GetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Get(context.Background(), "users", NewID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStore_DeleteRemovesFromIndex(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id := NewID()
	if err := s.Put(ctx, "tasks", id, model.Document{"_id": id, "name": "t"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(ctx, "tasks", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "tasks", id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	entries, err := s.Scan(ctx, "tasks")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty scan after delete, got %d", len(entries))
	}

	if err := s.Delete(ctx, "tasks", id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRedisStore_ScanIsolatedByCollection(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := NewID()
		if err := s.Put(ctx, "users", id, model.Document{"_id": id}); err != nil {
			t.Fatalf("put user: %v", err)
		}
	}
	taskID := NewID()
	if err := s.Put(ctx, "tasks", taskID, model.Document{"_id": taskID}); err != nil {
		t.Fatalf("put task: %v", err)
	}

	users, err := s.Scan(ctx, "users")
	if err != nil {
		t.Fatalf("scan users: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}
	tasks, err := s.Scan(ctx, "tasks")
	if err != nil {
		t.Fatalf("scan tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != taskID {
		t.Fatalf("expected single task %s, got %+v", taskID, tasks)
	}
}

func TestRedisStore_ScanSkipsIndexResidue(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	id := NewID()
	if err := s.Put(ctx, "users", id, model.Document{"_id": id}); err != nil {
		t.Fatalf("put: %v", err)
	}
	// 人为制造索引残留：文档键被删而索引成员还在
	stale := NewID()
	mr.SAdd("mp3:idx:users", stale)

	entries, err := s.Scan(ctx, "users")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("expected residue skipped, got %+v", entries)
	}
}

func TestValidID(t *testing.T) {
	if !ValidID(NewID()) {
		t.Fatalf("generated id must validate")
	}
	for _, bad := range []string{"", "zzz", "not-hex-at-all", "0123"} {
		if ValidID(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}
