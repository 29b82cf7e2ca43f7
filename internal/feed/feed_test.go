package feed

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func testFeed(t *testing.T, cfg Config) *Feed {
	t.Helper()
	if cfg.InstanceID == "" {
		cfg.InstanceID = "test-instance"
	}
	f := New(cfg)
	t.Cleanup(f.Close)
	return f
}

// drain blocks until the run loop has consumed every queued event. A
// single runCmd is not enough: the loop picks ready channels in no
// particular order.
func drain(f *Feed) {
	for {
		empty := false
		f.runCmd(func() { empty = len(f.in) == 0 })
		if empty {
			return
		}
	}
}

func publishWait(f *Feed, source, level, message string) {
	f.Publish(source, level, message)
	drain(f)
}

func TestFeedRingBufferBound(t *testing.T) {
	f := testFeed(t, Config{BufferSize: 10})
	for i := 0; i < 25; i++ {
		publishWait(f, "gateway", "INFO", fmt.Sprintf("line %d", i))
	}
	backlog := f.Backlog(100, "DEBUG", nil)
	if len(backlog) != 10 {
		t.Fatalf("backlog length = %d, want 10", len(backlog))
	}
	if backlog[0].Message != "line 15" || backlog[9].Message != "line 24" {
		t.Fatalf("ring kept wrong window: %s .. %s", backlog[0].Message, backlog[9].Message)
	}
}

func TestFeedBacklogFilters(t *testing.T) {
	f := testFeed(t, Config{BufferSize: 50})
	publishWait(f, "gateway", "DEBUG", "debug line")
	publishWait(f, "gateway", "ERROR", "error line")
	publishWait(f, "llm", "ERROR", "backend error")

	byLevel := f.Backlog(50, "ERROR", nil)
	if len(byLevel) != 2 {
		t.Fatalf("level filter: %+v", byLevel)
	}
	bySource := f.Backlog(50, "DEBUG", ParseSourceFilter("llm"))
	if len(bySource) != 1 || bySource[0].Source != "llm" {
		t.Fatalf("source filter: %+v", bySource)
	}
	limited := f.Backlog(1, "DEBUG", nil)
	if len(limited) != 1 || limited[0].Message != "backend error" {
		t.Fatalf("limit should keep the newest: %+v", limited)
	}
}

func TestFeedSubscriberReceivesLiveEvents(t *testing.T) {
	f := testFeed(t, Config{})
	sub := f.Subscribe()
	defer f.Unsubscribe(sub)

	f.Publish("gateway", "INFO", "hello")
	select {
	case ev := <-sub.Events():
		if ev.Message != "hello" || ev.Level != "INFO" || ev.Instance != "test-instance" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
}

func TestFeedSlowSubscriberDropsOldest(t *testing.T) {
	f := testFeed(t, Config{SubscriberQueueSize: 10})
	sub := f.Subscribe()
	defer f.Unsubscribe(sub)

	for i := 0; i < 30; i++ {
		publishWait(f, "gateway", "INFO", fmt.Sprintf("line %d", i))
	}
	// The queue holds the newest 10; older entries were evicted.
	first := <-sub.Events()
	if first.Message != "line 20" {
		t.Fatalf("first queued = %q, want line 20", first.Message)
	}
	if f.Stats().Dropped == 0 {
		t.Fatalf("evictions not counted")
	}
}

func TestFeedSanitize(t *testing.T) {
	f := testFeed(t, Config{MaxLineChars: 300})
	publishWait(f, "gateway", "INFO", "first\nsecond\rthird")
	publishWait(f, "gateway", "INFO", strings.Repeat("x", 400))

	backlog := f.Backlog(10, "DEBUG", nil)
	if len(backlog) != 2 {
		t.Fatalf("backlog: %+v", backlog)
	}
	if strings.ContainsAny(backlog[0].Message, "\r\n") {
		t.Fatalf("newlines survived: %q", backlog[0].Message)
	}
	if !strings.Contains(backlog[0].Message, `\n`) {
		t.Fatalf("newline marker missing: %q", backlog[0].Message)
	}
	long := backlog[1].Message
	if !strings.HasSuffix(long, "...[truncated]") {
		t.Fatalf("truncation marker missing: %q", long[len(long)-20:])
	}
	if want := 300 - 12 + len("...[truncated]"); len(long) != want {
		t.Fatalf("truncated length = %d, want %d", len(long), want)
	}
}

// Truncation counts runes, never splitting a multi-byte character.
func TestFeedTruncateMultiByte(t *testing.T) {
	f := testFeed(t, Config{MaxLineChars: 300})
	publishWait(f, "gateway", "INFO", strings.Repeat("é", 400))

	backlog := f.Backlog(10, "DEBUG", nil)
	if len(backlog) != 1 {
		t.Fatalf("backlog: %+v", backlog)
	}
	long := backlog[0].Message
	if !utf8.ValidString(long) {
		t.Fatalf("truncation split a rune: %q", long[:20])
	}
	if !strings.HasSuffix(long, "...[truncated]") {
		t.Fatalf("truncation marker missing")
	}
	if want := 300 - 12 + len("...[truncated]"); utf8.RuneCountInString(long) != want {
		t.Fatalf("truncated rune count = %d, want %d", utf8.RuneCountInString(long), want)
	}
}

func TestFeedRedactsAtIngestion(t *testing.T) {
	f := testFeed(t, Config{Redactor: NewRedactor("")})
	publishWait(f, "gateway", "INFO", "Authorization: Bearer abc123.def")
	backlog := f.Backlog(10, "DEBUG", nil)
	if len(backlog) != 1 || strings.Contains(backlog[0].Message, "abc123") {
		t.Fatalf("credential not redacted: %+v", backlog)
	}
}

func TestFeedEchoSuppression(t *testing.T) {
	f := testFeed(t, Config{InstanceID: "replica-a"})
	f.Ingest(Event{Source: "gateway", Level: "INFO", Message: "own echo", Instance: "replica-a"})
	f.Ingest(Event{Source: "gateway", Level: "INFO", Message: "foreign", Instance: "replica-b"})
	drain(f)

	backlog := f.Backlog(10, "DEBUG", nil)
	if len(backlog) != 1 || backlog[0].Message != "foreign" {
		t.Fatalf("echo suppression wrong: %+v", backlog)
	}
}

func TestFeedDistributor(t *testing.T) {
	f := testFeed(t, Config{})
	got := make(chan Event, 1)
	f.SetDistributor(func(_ context.Context, ev Event) error {
		got <- ev
		return nil
	})
	f.Publish("gateway", "INFO", "fan out")
	select {
	case ev := <-got:
		if ev.Message != "fan out" {
			t.Fatalf("distributor saw %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("distributor not invoked")
	}
}

func TestFeedDistributorFailureCounted(t *testing.T) {
	f := testFeed(t, Config{})
	done := make(chan struct{}, 1)
	f.SetDistributor(func(context.Context, Event) error {
		done <- struct{}{}
		return fmt.Errorf("bus down")
	})
	f.Publish("gateway", "INFO", "x")
	<-done
	deadline := time.Now().Add(time.Second)
	for f.Stats().DistributorFailures == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("failure not counted")
		}
		time.Sleep(time.Millisecond)
	}
}

// Ingested events must not be forwarded back to the distributor, or two
// replicas would ping-pong every line forever.
func TestFeedIngestSkipsDistributor(t *testing.T) {
	f := testFeed(t, Config{InstanceID: "replica-a"})
	calls := make(chan Event, 1)
	f.SetDistributor(func(_ context.Context, ev Event) error {
		calls <- ev
		return nil
	})
	f.Ingest(Event{Source: "gateway", Level: "INFO", Message: "foreign", Instance: "replica-b"})
	drain(f)
	select {
	case ev := <-calls:
		t.Fatalf("ingested event redistributed: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedCloseStopsIntake(t *testing.T) {
	f := New(Config{InstanceID: "x"})
	f.Close()
	// Must not panic or block after close.
	f.Publish("gateway", "INFO", "late")
	f.Subscribe()
	f.Backlog(10, "DEBUG", nil)
}
