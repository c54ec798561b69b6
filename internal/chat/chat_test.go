package chat

import (
	"testing"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

func TestAppendPublicAssignsIDWhenUnset(t *testing.T) {
	dir := t.TempDir()
	s := New(zap.NewNop(), dir)

	msg := types.ChatMessage{RoomID: "lobby", SenderID: "trader_a", Body: "hello"}
	if err := s.AppendPublic(msg); err != nil {
		t.Fatalf("AppendPublic: %v", err)
	}

	got, err := s.TailPublic("lobby", 1)
	if err != nil {
		t.Fatalf("TailPublic: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].ID == "" {
		t.Fatalf("expected an auto-assigned message ID")
	}
}

func TestAppendPublicPreservesCallerSuppliedID(t *testing.T) {
	dir := t.TempDir()
	s := New(zap.NewNop(), dir)

	msg := types.ChatMessage{ID: "msg_fixed", RoomID: "lobby", SenderID: "trader_a", Body: "hi"}
	if err := s.AppendPublic(msg); err != nil {
		t.Fatalf("AppendPublic: %v", err)
	}

	got, err := s.TailPublic("lobby", 1)
	if err != nil {
		t.Fatalf("TailPublic: %v", err)
	}
	if got[0].ID != "msg_fixed" {
		t.Fatalf("expected preserved ID msg_fixed, got %q", got[0].ID)
	}
}

func TestAppendDMIsIsolatedPerSession(t *testing.T) {
	dir := t.TempDir()
	s := New(zap.NewNop(), dir)

	if err := s.AppendDM("session_1", types.ChatMessage{RoomID: "lobby", SenderID: "trader_a", Body: "secret"}); err != nil {
		t.Fatalf("AppendDM: %v", err)
	}

	pub, err := s.TailPublic("lobby", 10)
	if err != nil {
		t.Fatalf("TailPublic: %v", err)
	}
	if len(pub) != 0 {
		t.Fatalf("expected DM not to leak into the public log, got %d public messages", len(pub))
	}
}

func TestRoomsAreIsolatedFromEachOther(t *testing.T) {
	dir := t.TempDir()
	s := New(zap.NewNop(), dir)

	if err := s.AppendPublic(types.ChatMessage{RoomID: "room_a", SenderID: "trader_a", Body: "a"}); err != nil {
		t.Fatalf("AppendPublic: %v", err)
	}
	if err := s.AppendPublic(types.ChatMessage{RoomID: "room_b", SenderID: "trader_b", Body: "b"}); err != nil {
		t.Fatalf("AppendPublic: %v", err)
	}

	gotA, err := s.TailPublic("room_a", 10)
	if err != nil {
		t.Fatalf("TailPublic room_a: %v", err)
	}
	if len(gotA) != 1 || gotA[0].Body != "a" {
		t.Fatalf("expected room_a to only see its own message, got %+v", gotA)
	}
}
