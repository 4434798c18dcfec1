package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMailboxDeliversToAddressedRole(t *testing.T) {
	mb := NewMailbox()
	rx := mb.Subscribe(RoleAnalyst, "new-launch")
	mb.Send(RoleAnalyst, "new-launch", "payload1")

	select {
	case msg := <-rx:
		if msg != "payload1" {
			t.Fatalf("got %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMailboxBroadcastReachesEverySubscriber(t *testing.T) {
	mb := NewMailbox()
	rx1 := mb.Subscribe(RoleExecutor, "threat-exit")
	rx2 := mb.Subscribe(RoleMemory, "threat-exit")
	mb.Send(RoleBroadcast, "threat-exit", "alert")

	for _, rx := range []<-chan interface{}{rx1, rx2} {
		select {
		case <-rx:
		case <-time.After(time.Second):
			t.Fatal("broadcast did not reach a subscriber")
		}
	}
}

func TestAgentTicksAndRecoversFromPanic(t *testing.T) {
	var ticks int32
	a := New(RoleScout, 10*time.Millisecond, Hooks{
		Tick: func(ctx context.Context) error {
			n := atomic.AddInt32(&ticks, 1)
			if n == 1 {
				panic("boom")
			}
			return nil
		},
	}, NewMailbox())

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	a.Stop(context.Background())

	if atomic.LoadInt32(&ticks) < 2 {
		t.Fatal("expected the loop to survive a panicking tick and keep ticking")
	}
}

func TestPauseSkipsTicksWithoutStopping(t *testing.T) {
	var ticks int32
	a := New(RoleSentinel, 10*time.Millisecond, Hooks{
		Tick: func(ctx context.Context) error {
			atomic.AddInt32(&ticks, 1)
			return nil
		},
	}, NewMailbox())
	_ = a.Start(context.Background())
	a.Pause()
	time.Sleep(40 * time.Millisecond)
	frozen := atomic.LoadInt32(&ticks)
	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&ticks) != frozen {
		t.Fatal("expected no ticks while paused")
	}
	a.Resume()
	time.Sleep(40 * time.Millisecond)
	a.Stop(context.Background())
	if atomic.LoadInt32(&ticks) <= frozen {
		t.Fatal("expected ticks to resume")
	}
}
