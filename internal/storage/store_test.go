package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"community-chat/server/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAssignsIncreasingServerIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 3; i++ {
		msg, err := s.InsertMessage(ctx, models.Message{
			PublicKey: "05aa",
			Data:      "aGVsbG8=",
			Signature: "c2ln",
		})
		if err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
		if msg.ServerID <= lastID {
			t.Fatalf("expected increasing server ids, got %d after %d", msg.ServerID, lastID)
		}
		if msg.Timestamp == 0 {
			t.Fatal("expected insertion timestamp to be set")
		}
		lastID = msg.ServerID
	}
}

func TestMessagesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		msg, err := s.InsertMessage(ctx, models.Message{PublicKey: "05aa", Data: "ZA==", Signature: "cw=="})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		ids = append(ids, msg.ServerID)
	}

	got, err := s.Messages(ctx, 2, ids[1])
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 || got[0].ServerID != ids[2] || got[1].ServerID != ids[3] {
		t.Fatalf("expected ids %d,%d, got %+v", ids[2], ids[3], got)
	}

	all, err := s.Messages(ctx, 100, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(all))
	}
}

func TestDeleteMessageRecordsMarker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.InsertMessage(ctx, models.Message{PublicKey: "05aa", Data: "ZA==", Signature: "cw=="})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := s.DeleteMessage(ctx, msg.ServerID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	remaining, err := s.Messages(ctx, 100, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no messages left, got %d", len(remaining))
	}

	markers, err := s.DeletionMarkers(ctx, 100, 0)
	if err != nil {
		t.Fatalf("list markers failed: %v", err)
	}
	if len(markers) != 1 || markers[0].ServerID != msg.ServerID {
		t.Fatalf("expected marker for %d, got %+v", msg.ServerID, markers)
	}
	if markers[0].DeletedAt == 0 {
		t.Fatal("expected deletion timestamp to be set")
	}
}

func TestDeleteMessageUnknownIDIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteMessage(context.Background(), 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBanUnbanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Ban(ctx, "05bad"); err != nil {
		t.Fatalf("ban failed: %v", err)
	}
	if err := s.Ban(ctx, "05bad"); err != nil {
		t.Fatalf("double ban should be a no-op: %v", err)
	}

	banned, err := s.IsBanned(ctx, "05bad")
	if err != nil {
		t.Fatalf("is banned failed: %v", err)
	}
	if !banned {
		t.Fatal("expected key to be banned")
	}

	keys, err := s.BannedKeys(ctx)
	if err != nil {
		t.Fatalf("list banned failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "05bad" {
		t.Fatalf("expected [05bad], got %v", keys)
	}

	if err := s.Unban(ctx, "05bad"); err != nil {
		t.Fatalf("unban failed: %v", err)
	}
	if err := s.Unban(ctx, "05bad"); err != nil {
		t.Fatalf("unban of absent key should be a no-op: %v", err)
	}
	banned, err = s.IsBanned(ctx, "05bad")
	if err != nil {
		t.Fatalf("is banned failed: %v", err)
	}
	if banned {
		t.Fatal("expected key to be unbanned")
	}
}

func TestModerators(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"05mod2", "05mod1", "05mod1"} {
		if err := s.AddModerator(ctx, key); err != nil {
			t.Fatalf("add moderator failed: %v", err)
		}
	}
	mods, err := s.Moderators(ctx)
	if err != nil {
		t.Fatalf("list moderators failed: %v", err)
	}
	if len(mods) != 2 || mods[0] != "05mod1" || mods[1] != "05mod2" {
		t.Fatalf("expected sorted unique moderators, got %v", mods)
	}
}

func TestMemberCountHonorsActivityWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.TouchMember(ctx, "05old", now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	if err := s.TouchMember(ctx, "05fresh", now); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	// A second touch only moves the activity timestamp.
	if err := s.TouchMember(ctx, "05fresh", now.Add(time.Second)); err != nil {
		t.Fatalf("touch failed: %v", err)
	}

	count, err := s.MemberCount(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("member count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 active member, got %d", count)
	}

	count, err = s.MemberCount(ctx, now.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("member count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 members in the wide window, got %d", count)
	}
}
