package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeDueSender struct {
	calls  atomic.Int32
	sendFn func(ctx context.Context) (SendDueResult, error)
}

func (f *fakeDueSender) SendDueEmails(ctx context.Context) (SendDueResult, error) {
	f.calls.Add(1)
	if f.sendFn != nil {
		return f.sendFn(ctx)
	}
	return SendDueResult{}, nil
}

func TestSendClockRunsImmediatelyAndOnTick(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan struct{}, 8)
	sender := &fakeDueSender{sendFn: func(ctx context.Context) (SendDueResult, error) {
		ticks <- struct{}{}
		return SendDueResult{SentCount: 1}, nil
	}}
	clock, err := NewSendClock(sender, 10*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSendClock() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- clock.Start(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatalf("send cycle %d did not run", i+1)
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestSendClockSuppressesErrorsAfterShutdown(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &fakeDueSender{sendFn: func(context.Context) (SendDueResult, error) {
		cancel()
		return SendDueResult{}, errors.New("database unavailable")
	}}
	clock, err := NewSendClock(sender, time.Hour, zap.New(core))
	if err != nil {
		t.Fatalf("NewSendClock() error = %v", err)
	}

	if err := clock.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sender.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", sender.calls.Load())
	}
	// The context was cancelled during the cycle, so the error is not logged.
	if logs.Len() != 0 {
		t.Fatalf("logged %d errors, want 0 after shutdown", logs.Len())
	}
}

func TestSendClockLogsErrorWhileRunning(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &fakeDueSender{sendFn: func(context.Context) (SendDueResult, error) {
		return SendDueResult{}, errors.New("database unavailable")
	}}
	clock, err := NewSendClock(sender, time.Hour, zap.New(core))
	if err != nil {
		t.Fatalf("NewSendClock() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- clock.Start(ctx) }()

	deadline := time.After(2 * time.Second)
	for logs.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial cycle error was not logged")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	entry := logs.All()[0]
	if entry.Message != "initial send cycle failed" {
		t.Fatalf("log message = %q", entry.Message)
	}
}

func TestNewSendClockRequiresSender(t *testing.T) {
	t.Parallel()

	if _, err := NewSendClock(nil, time.Minute, nil); err == nil {
		t.Fatal("NewSendClock(nil) error = nil, want error")
	}
}
