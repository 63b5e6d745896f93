package ioruntime

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerLimitsConcurrency(t *testing.T) {
	s := newScheduler(2)

	p1, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p2, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Acquire(ctx); err == nil {
		t.Fatal("third process should block until a slot frees")
	}

	p1.Release()
	p2.Release()
}

func TestSchedulerExclusiveWaitsForRunning(t *testing.T) {
	s := newScheduler(2)

	p, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	exclusiveDone := make(chan struct{})
	go func() {
		ex := s.Exclusive()
		close(exclusiveDone)
		ex.Release()
	}()

	select {
	case <-exclusiveDone:
		t.Fatal("exclusive process should not proceed while a reducer is running")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release()
	<-exclusiveDone
}

func TestYield(t *testing.T) {
	ctx := context.Background()
	quanta := 10 * time.Millisecond
	deadline := time.Now().Add(quanta)

	sched := newMultiScheduler(1)
	sched.interactiveDuration = quanta
	proc, err := sched.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer proc.Release()

	called := false
	oldYieldFunc := proc.yieldFunc
	proc.yieldFunc = func(ctx context.Context) error {
		if called {
			t.Fatal("yieldFunc called more than once")
		}
		called = true
		if time.Now().Before(deadline) {
			t.Fatal("yieldFunc called before deadline")
		}
		return oldYieldFunc(ctx)
	}

	var pre, post int
	for post < 10 {
		if err := proc.Yield(ctx); err != nil {
			t.Fatal(err)
		}

		if called {
			post++
		} else {
			pre++
		}
	}

	t.Logf("pre=%d post=%d", pre, post)
}

func BenchmarkYield(b *testing.B) {
	quanta := time.Minute

	b.Run("timer", func(b *testing.B) {
		t := time.NewTimer(quanta)
		defer t.Stop()

		for n := 0; n < b.N; n++ {
			select {
			case <-t.C:
				b.Fatal("done")
			default:
			}
		}
	})

	b.Run("now", func(b *testing.B) {
		deadline := time.Now().Add(quanta)

		for n := 0; n < b.N; n++ {
			if time.Now().After(deadline) {
				b.Fatal("done")
			}
		}
	})

	b.Run("deadlineTimer", func(b *testing.B) {
		t := newDeadlineTimer(time.Now().Add(quanta))
		defer t.Stop()

		for n := 0; n < b.N; n++ {
			if t.Exceeded() {
				b.Fatal("done")
			}
		}
	})

	b.Run("yield", func(b *testing.B) {
		ctx := context.Background()
		sched := newMultiScheduler(1)
		sched.interactiveDuration = quanta
		proc, err := sched.Acquire(ctx)
		if err != nil {
			b.Fatal(err)
		}
		defer proc.Release()

		for n := 0; n < b.N; n++ {
			proc.Yield(ctx)
		}
	})
}

func TestParseTuneables(t *testing.T) {
	m := parseTuneables("batchdiv=2,interactiveseconds=10")
	if m["batchdiv"] != 2 || m["interactiveseconds"] != 10 {
		t.Fatalf("unexpected parse: %#v", m)
	}
	if len(parseTuneables("")) != 0 {
		t.Fatal("expected empty map for empty input")
	}
}
