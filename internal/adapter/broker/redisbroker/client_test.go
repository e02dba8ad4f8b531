package redisbroker

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/videogen/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := NewWithClient(rdb, "videogen:cache:")

	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return client, mr, cleanup
}

func TestGetSet_Namespaced(t *testing.T) {
	ctx := context.Background()
	client, mr, cleanup := newTestClient(t)
	defer cleanup()

	if err := client.Set(ctx, "job_status:j1", `{"status":"queued"}`, 30*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	if !mr.Exists("videogen:cache:job_status:j1") {
		t.Fatalf("expected namespaced key in redis, keys: %v", mr.Keys())
	}

	val, err := client.Get(ctx, "job_status:j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != `{"status":"queued"}` {
		t.Fatalf("unexpected value: %q", val)
	}
}

func TestGet_MissIsNotFound(t *testing.T) {
	ctx := context.Background()
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	_, err := client.Get(ctx, "absent")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_Exists(t *testing.T) {
	ctx := context.Background()
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	if err := client.Set(ctx, "job_cancel:j1", "1", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	ok, err := client.Exists(ctx, "job_cancel:j1")
	if err != nil || !ok {
		t.Fatalf("expected key to exist, ok=%v err=%v", ok, err)
	}

	if err := client.Delete(ctx, "job_cancel:j1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = client.Exists(ctx, "job_cancel:j1")
	if err != nil || ok {
		t.Fatalf("expected key to be gone, ok=%v err=%v", ok, err)
	}

	// deleting nothing is a no-op
	if err := client.Delete(ctx); err != nil {
		t.Fatalf("empty delete: %v", err)
	}
}

func TestListOps_PushPop(t *testing.T) {
	ctx := context.Background()
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	if err := client.LPush(ctx, domain.QueueKey, "first"); err != nil {
		t.Fatalf("lpush: %v", err)
	}
	if err := client.LPush(ctx, domain.QueueKey, "second"); err != nil {
		t.Fatalf("lpush: %v", err)
	}

	n, err := client.LLen(ctx, domain.QueueKey)
	if err != nil || n != 2 {
		t.Fatalf("expected llen 2, got %d err=%v", n, err)
	}

	// FIFO: tail pop returns the oldest entry
	val, err := client.BRPop(ctx, time.Second, domain.QueueKey)
	if err != nil {
		t.Fatalf("brpop: %v", err)
	}
	if val != "first" {
		t.Fatalf("expected FIFO order, got %q", val)
	}
}

func TestBRPop_EmptyTimeout(t *testing.T) {
	ctx := context.Background()
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	val, err := client.BRPop(ctx, 50*time.Millisecond, domain.QueueKey)
	if err != nil {
		t.Fatalf("expected nil error on elapsed wait, got %v", err)
	}
	if val != "" {
		t.Fatalf("expected empty value on elapsed wait, got %q", val)
	}
}

func TestSetOps(t *testing.T) {
	ctx := context.Background()
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	if err := client.SAdd(ctx, domain.ProcessingKey, "j1"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	if err := client.SAdd(ctx, domain.ProcessingKey, "j2"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	n, err := client.SCard(ctx, domain.ProcessingKey)
	if err != nil || n != 2 {
		t.Fatalf("expected scard 2, got %d err=%v", n, err)
	}
	if err := client.SRem(ctx, domain.ProcessingKey, "j1"); err != nil {
		t.Fatalf("srem: %v", err)
	}
	n, err = client.SCard(ctx, domain.ProcessingKey)
	if err != nil || n != 1 {
		t.Fatalf("expected scard 1, got %d err=%v", n, err)
	}
}

func TestPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	ch, stop, err := client.Subscribe(ctx, domain.EventsChannel("j1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := client.Publish(ctx, domain.EventsChannel("j1"), []byte(`{"event_type":"progress"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg) != `{"event_type":"progress"}` {
			t.Fatalf("unexpected payload: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestSubscribe_StopClosesStream(t *testing.T) {
	ctx := context.Background()
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	ch, stop, err := client.Subscribe(ctx, domain.EventsChannel("j2"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stop()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed stream after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream close")
	}
}

func TestRunScript_NamespacesKeys(t *testing.T) {
	ctx := context.Background()
	client, mr, cleanup := newTestClient(t)
	defer cleanup()

	script := redis.NewScript(`redis.call("SET", KEYS[1], ARGV[1]); return 1`)
	res, err := client.RunScript(ctx, script, []string{"rate:u1"}, "x")
	if err != nil {
		t.Fatalf("run script: %v", err)
	}
	if n, ok := res.(int64); !ok || n != 1 {
		t.Fatalf("unexpected script result: %v", res)
	}
	if !mr.Exists("videogen:cache:rate:u1") {
		t.Fatalf("expected namespaced script key, keys: %v", mr.Keys())
	}
}

func TestPing(t *testing.T) {
	ctx := context.Background()
	client, mr, cleanup := newTestClient(t)
	defer cleanup()

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	mr.Close()
	if err := client.Ping(ctx); !errors.Is(err, domain.ErrRetryable) {
		t.Fatalf("expected ErrRetryable after broker down, got %v", err)
	}
}
