package services

import (
	"testing"

	"chatgate/internal/models"
)

func testConnection(connID, identity string, depth int) *models.UserConnection {
	return &models.UserConnection{
		ConnID:    connID,
		Identity:  identity,
		WriteChan: make(chan string, depth),
	}
}

func TestConnectionManager_RegisterAndGet(t *testing.T) {
	cm := NewConnectionManager(NewStats())

	conn := testConnection("conn-1", "user-1", 10)
	cm.Register(conn)

	got, ok := cm.Get("user-1")
	if !ok {
		t.Fatal("expected connection for user-1")
	}
	if got.ConnID != "conn-1" {
		t.Errorf("expected conn-1, got %q", got.ConnID)
	}
	if cm.Count() != 1 {
		t.Errorf("expected count 1, got %d", cm.Count())
	}
}

func TestConnectionManager_ReplaceLastWriterWins(t *testing.T) {
	cm := NewConnectionManager(NewStats())

	cm.Register(testConnection("conn-1", "user-1", 10))
	cm.Register(testConnection("conn-2", "user-1", 10))

	got, _ := cm.Get("user-1")
	if got.ConnID != "conn-2" {
		t.Fatalf("expected replacement to win, got %q", got.ConnID)
	}
	if cm.Count() != 1 {
		t.Errorf("expected count 1 after replacement, got %d", cm.Count())
	}

	// The replaced connection's disconnect must not tear down conn-2.
	cm.Unregister("user-1", "conn-1")
	if _, ok := cm.Get("user-1"); !ok {
		t.Fatal("stale unregister removed the live connection")
	}

	cm.Unregister("user-1", "conn-2")
	if _, ok := cm.Get("user-1"); ok {
		t.Error("connection should be gone after matching unregister")
	}
}

func TestConnectionManager_UnregisterUnknownIsNoop(t *testing.T) {
	cm := NewConnectionManager(NewStats())
	cm.Unregister("ghost", "conn-1") // must not panic
}

func TestConnectionManager_SendToMissingIdentity(t *testing.T) {
	cm := NewConnectionManager(NewStats())
	cm.Send("ghost", "hello") // silent no-op
}

func TestConnectionManager_SendDropsWhenChannelFull(t *testing.T) {
	cm := NewConnectionManager(NewStats())

	conn := testConnection("conn-1", "user-1", 1)
	cm.Register(conn)

	cm.Send("user-1", "first")
	cm.Send("user-1", "second") // channel full, must not block

	if got := <-conn.WriteChan; got != "first" {
		t.Errorf("expected first frame delivered, got %q", got)
	}
	select {
	case extra := <-conn.WriteChan:
		t.Errorf("expected overflow frame dropped, got %q", extra)
	default:
	}
}

func TestConnectionManager_SendToClosedChannel(t *testing.T) {
	cm := NewConnectionManager(NewStats())

	conn := testConnection("conn-1", "user-1", 1)
	cm.Register(conn)
	close(conn.WriteChan)

	cm.Send("user-1", "hello") // recovered, must not panic
}
