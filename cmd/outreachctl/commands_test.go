package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/leadnexconnect/campaign-engine/internal/queue"
	"github.com/leadnexconnect/campaign-engine/internal/service"
)

func TestCampaignCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantKey string
		want    float64
	}{
		{name: "start", args: []string{"start", "c1"}, wantKey: "scheduledCount", want: 4},
		{name: "pause", args: []string{"pause", "c1"}, wantKey: "cancelledCount", want: 3},
		{name: "resume", args: []string{"resume", "c1"}, wantKey: "resumedCount", want: 2},
		{name: "retry", args: []string{"retry", "c1"}, wantKey: "retriedCount", want: 1},
		{name: "stats", args: []string{"stats", "c1"}, wantKey: "sent", want: 5},
		{name: "send-due", args: []string{"send-due"}, wantKey: "sentCount", want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ops := &stubOperations{}
			env, out := newTestEnvironment(ops)
			cmd := newRootCommand(env)
			cmd.SetArgs(tt.args)

			if err := cmd.ExecuteContext(context.Background()); err != nil {
				t.Fatalf("Execute(%v) error = %v", tt.args, err)
			}
			if ops.closed != 1 {
				t.Fatalf("close calls = %d, want 1", ops.closed)
			}

			var parsed map[string]any
			if err := json.Unmarshal(out.Bytes(), &parsed); err != nil {
				t.Fatalf("json unmarshal error = %v, output=%s", err, out.String())
			}
			if parsed[tt.wantKey] != tt.want {
				t.Fatalf("%s = %v, want %v", tt.wantKey, parsed[tt.wantKey], tt.want)
			}
		})
	}
}

func TestCampaignCommandPropagatesServiceError(t *testing.T) {
	t.Parallel()

	ops := &stubOperations{err: domain.ErrCampaignNotRunning}
	env, _ := newTestEnvironment(ops)
	cmd := newRootCommand(env)
	cmd.SetArgs([]string{"retry", "c1"})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.ExecuteContext(context.Background())
	if !errors.Is(err, domain.ErrCampaignNotRunning) {
		t.Fatalf("Execute() error = %v, want ErrCampaignNotRunning", err)
	}
	if ops.closed != 1 {
		t.Fatalf("close calls = %d, want 1", ops.closed)
	}
}

func TestCampaignCommandRequiresID(t *testing.T) {
	t.Parallel()

	opened := false
	env := &environment{
		out: &bytes.Buffer{},
		open: func(ctx context.Context) (operations, func() error, error) {
			opened = true
			return nil, nil, errors.New("should not open")
		},
	}
	cmd := newRootCommand(env)
	cmd.SetArgs([]string{"start"})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("Execute(start) error = nil, want argument error")
	}
	if opened {
		t.Fatal("services opened for an invalid invocation")
	}
}

func TestEventsTailPrintsEvents(t *testing.T) {
	t.Parallel()

	consumer := &stubConsumer{
		events: []queue.Event{{
			Kind:             queue.EventEmailSent,
			CampaignID:       "c1",
			ScheduledEmailID: "row-1",
			OccurredAt:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		}},
	}
	out := &bytes.Buffer{}
	env := &environment{
		out:         out,
		openConsume: func(ctx context.Context) (queue.Consumer, error) { return consumer, nil },
	}
	cmd := newRootCommand(env)
	cmd.SetArgs([]string{"events", "tail", "--kind", "email.sent"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := consumer.queueNames(); len(got) != 1 || got[0] != queue.QueueName(queue.EventEmailSent) {
		t.Fatalf("queues = %v, want [%s]", got, queue.QueueName(queue.EventEmailSent))
	}
	if !strings.Contains(out.String(), `"scheduledEmailId":"row-1"`) {
		t.Fatalf("output = %s, want event line", out.String())
	}
	if !consumer.closed {
		t.Fatal("consumer was not closed")
	}
}

func TestTailQueues(t *testing.T) {
	t.Parallel()

	all, err := tailQueues(nil)
	if err != nil {
		t.Fatalf("tailQueues(nil) error = %v", err)
	}
	if len(all) != len(queue.EventQueueNames()) {
		t.Fatalf("tailQueues(nil) = %v, want all event queues", all)
	}

	if _, err := tailQueues([]string{"email.bounced"}); err == nil {
		t.Fatal("tailQueues(unknown) error = nil, want error")
	}
}

type stubOperations struct {
	err    error
	closed int
}

func (s *stubOperations) StartCampaign(ctx context.Context, id string) (*service.ScheduleResult, error) {
	return &service.ScheduleResult{CampaignID: id, ScheduledCount: 4, LeadCount: 2}, s.err
}

func (s *stubOperations) PauseCampaign(ctx context.Context, id string) (int, error) {
	return 3, s.err
}

func (s *stubOperations) ResumeCampaign(ctx context.Context, id string) (int, error) {
	return 2, s.err
}

func (s *stubOperations) RetryFailed(ctx context.Context, id string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return 1, nil
}

func (s *stubOperations) GetCampaignEmailStats(ctx context.Context, id string) (*domain.ScheduledEmailStats, error) {
	return &domain.ScheduledEmailStats{Total: 5, Sent: 5}, s.err
}

func (s *stubOperations) SendDueEmails(ctx context.Context) (service.SendDueResult, error) {
	return service.SendDueResult{SentCount: 7}, s.err
}

func newTestEnvironment(ops *stubOperations) (*environment, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &environment{
		out: out,
		open: func(ctx context.Context) (operations, func() error, error) {
			return ops, func() error {
				ops.closed++
				return nil
			}, nil
		},
	}, out
}

// stubConsumer replays its events on every queue and returns.
type stubConsumer struct {
	mu     sync.Mutex
	events []queue.Event
	queues []string
	closed bool
}

func (c *stubConsumer) Consume(ctx context.Context, name string, handler queue.EventHandler) error {
	c.mu.Lock()
	c.queues = append(c.queues, name)
	c.mu.Unlock()

	for _, event := range c.events {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (c *stubConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConsumer) queueNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queues...)
}
