package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerAddRemove(t *testing.T) {
	s := NewScheduler()
	noop := func(context.Context) error { return nil }

	if err := s.AddSpec("sweep", "@every 1m", noop); err != nil {
		t.Fatalf("AddSpec() error = %v", err)
	}
	if err := s.AddSpec("sweep", "@every 1m", noop); !errors.Is(err, ErrJobExists) {
		t.Fatalf("duplicate AddSpec() error = %v, want ErrJobExists", err)
	}
	if !s.Has("sweep") {
		t.Fatal("expected job to be scheduled")
	}
	if err := s.Remove("sweep"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove("sweep"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Remove() error = %v, want ErrJobNotFound", err)
	}
}

func TestSchedulerValidation(t *testing.T) {
	s := NewScheduler()
	noop := func(context.Context) error { return nil }
	if err := s.Add("", At(time.Now().Add(time.Hour)), noop); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.Add("x", Schedule{}, noop); err == nil {
		t.Fatal("expected error for empty schedule")
	}
	if err := s.Add("x", At(time.Now().Add(time.Hour)), nil); err == nil {
		t.Fatal("expected error for nil func")
	}
	if err := s.AddSpec("x", "bogus", noop); err == nil {
		t.Fatal("expected error for bad spec")
	}
}

func TestSchedulerRunsOneShotAndRemovesIt(t *testing.T) {
	s := NewScheduler()
	var runs int32
	done := make(chan struct{})
	err := s.Add("once", At(time.Now().Add(1100*time.Millisecond)), func(context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	s.Start()
	defer func() { _ = s.Stop(context.Background()) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("one-shot job did not run")
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Has("once") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Has("once") {
		t.Fatal("one-shot job should be removed after firing")
	}
}

func TestSchedulerStopCancelsJobContext(t *testing.T) {
	s := NewScheduler()
	s.Start()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	var sawCancel bool
	s.RunNow("check", func(ctx context.Context) error {
		sawCancel = ctx.Err() != nil
		return nil
	})
	if !sawCancel {
		t.Fatal("job context should be cancelled after Stop")
	}
}
