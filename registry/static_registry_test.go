package registry

import (
	"context"
	"testing"
	"time"
)

func TestStaticRegisterDiscover(t *testing.T) {
	reg := NewStaticRegistry()
	ctx := context.Background()

	reg.Register(ctx, "svc", Instance{Addr: "a:1", Weight: 1}, 0)
	reg.Register(ctx, "svc", Instance{Addr: "b:1", Weight: 1}, 0)
	// Same address replaces instead of duplicating
	reg.Register(ctx, "svc", Instance{Addr: "a:1", Weight: 7}, 0)

	insts, err := reg.Discover(ctx, "svc")
	if err != nil {
		t.Fatal(err)
	}
	if len(insts) != 2 {
		t.Fatalf("expect 2 instances, got %+v", insts)
	}
	if insts[0].Weight != 7 {
		t.Fatalf("expect replaced weight 7, got %d", insts[0].Weight)
	}

	// Returned slice is a copy
	insts[0].Addr = "mutated"
	again, _ := reg.Discover(ctx, "svc")
	if again[0].Addr != "a:1" {
		t.Fatal("Discover leaked internal slice")
	}

	reg.Deregister(ctx, "svc", "a:1")
	insts, _ = reg.Discover(ctx, "svc")
	if len(insts) != 1 || insts[0].Addr != "b:1" {
		t.Fatalf("unexpected instances after deregister: %+v", insts)
	}

	if insts, _ := reg.Discover(ctx, "unknown"); len(insts) != 0 {
		t.Fatalf("expect no instances, got %+v", insts)
	}
}

func TestStaticWatch(t *testing.T) {
	reg := NewStaticRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	updates := reg.Watch(ctx, "svc")
	if first := <-updates; len(first) != 0 {
		t.Fatalf("expect empty initial snapshot, got %+v", first)
	}

	reg.Register(context.Background(), "svc", Instance{Addr: "a:1"}, 0)
	select {
	case list := <-updates:
		if len(list) != 1 {
			t.Fatalf("unexpected update: %+v", list)
		}
	case <-time.After(time.Second):
		t.Fatal("no update after register")
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			// A final snapshot may still be buffered; the next read must see the close
			if _, ok := <-updates; ok {
				t.Fatal("expect channel closed after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
