package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func busFor(t *testing.T, f *Feed, redisAddr, instance string) *RedisBus {
	t.Helper()
	bus, err := NewRedisBus(f, "redis://"+redisAddr, "gateway:terminal_feed", instance, time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	f.SetDistributor(bus.Publish)
	bus.Start(context.Background())
	t.Cleanup(bus.Stop)
	return bus
}

// waitForSubscribers polls the server until n clients are attached to
// the feed channel, so a publish cannot race the subscribe loops.
func waitForSubscribers(t *testing.T, addr string, n int64) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	deadline := time.Now().Add(3 * time.Second)
	for {
		subs, err := client.PubSubNumSub(ctx, "gateway:terminal_feed").Result()
		if err == nil && subs["gateway:terminal_feed"] >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscribers never attached: %v %v", subs, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForBacklog(t *testing.T, f *Feed, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range f.Backlog(50, "DEBUG", nil) {
			if ev.Message == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %q never arrived; backlog: %+v", want, f.Backlog(50, "DEBUG", nil))
}

func TestRedisBusBridgesReplicas(t *testing.T) {
	srv := miniredis.RunT(t)

	feedA := testFeed(t, Config{InstanceID: "replica-a"})
	feedB := testFeed(t, Config{InstanceID: "replica-b"})
	busFor(t, feedA, srv.Addr(), "replica-a")
	busFor(t, feedB, srv.Addr(), "replica-b")

	// Give both subscribe loops time to attach to the channel.
	waitForSubscribers(t, srv.Addr(), 2)

	feedA.Publish("gateway", "INFO", "cross-replica hello")
	waitForBacklog(t, feedB, "cross-replica hello")

	// The publishing replica must not see a duplicate of its own event.
	time.Sleep(50 * time.Millisecond)
	count := 0
	for _, ev := range feedA.Backlog(50, "DEBUG", nil) {
		if ev.Message == "cross-replica hello" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("echo not suppressed, %d copies on replica-a", count)
	}
}

func TestRedisBusPublishCarriesInstance(t *testing.T) {
	srv := miniredis.RunT(t)
	feedA := testFeed(t, Config{InstanceID: "replica-a"})
	feedB := testFeed(t, Config{InstanceID: "replica-b"})
	busFor(t, feedA, srv.Addr(), "replica-a")
	busFor(t, feedB, srv.Addr(), "replica-b")

	waitForSubscribers(t, srv.Addr(), 2)

	feedA.Publish("llm", "ERROR", "load failed")
	waitForBacklog(t, feedB, "load failed")
	for _, ev := range feedB.Backlog(50, "DEBUG", nil) {
		if ev.Message == "load failed" && ev.Instance != "replica-a" {
			t.Fatalf("instance id lost in transit: %+v", ev)
		}
	}
}

// Stop must unblock the subscribe loop even while it is parked waiting
// for the next message.
func TestRedisBusStopReturns(t *testing.T) {
	srv := miniredis.RunT(t)
	f := testFeed(t, Config{InstanceID: "replica-a"})
	bus, err := NewRedisBus(f, "redis://"+srv.Addr(), "gateway:terminal_feed", "replica-a", time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	bus.Start(context.Background())
	waitForSubscribers(t, srv.Addr(), 1)

	done := make(chan struct{})
	go func() {
		bus.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Stop did not return")
	}
}

func TestRedisBusBadURL(t *testing.T) {
	if _, err := NewRedisBus(nil, "not-a-url", "c", "i", time.Second, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for invalid redis url")
	}
}
