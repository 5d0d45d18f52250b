package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/svchecks/internal/history"
)

func restartEvent(name string, err error) history.Event {
	return history.NewRestartEvent("web-health",
		history.Process{Name: name, Group: "web", PID: 12345},
		[]string{"http", "memory"}, err, time.Now())
}

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := t.TempDir() + "/test.db"

	sink, err := New("file:" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	if err := sink.Send(ctx, restartEvent("web_8080", nil)); err != nil {
		t.Fatalf("Failed to send restart event: %v", err)
	}
	if err := sink.Send(ctx, restartEvent("web_8080", errors.New("Fault(70): NOT_RUNNING"))); err != nil {
		t.Fatalf("Failed to send failed restart event: %v", err)
	}

	for typ, want := range map[history.EventType]int{history.EventRestart: 1, history.EventRestartFailed: 1} {
		got, err := sink.Count(ctx, "web_8080", typ)
		if err != nil {
			t.Fatalf("count %s: %v", typ, err)
		}
		if got != want {
			t.Errorf("expected %d %s events, got %d", want, typ, got)
		}
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := sink.Send(ctx, restartEvent("worker", nil)); err != nil {
			t.Fatalf("Failed to send event: %v", err)
		}
	}
	n, err := sink.Count(ctx, "worker", history.EventRestart)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sink.Send(ctx, restartEvent("cancelled", nil)); err == nil {
		t.Log("driver accepted a cancelled context")
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
