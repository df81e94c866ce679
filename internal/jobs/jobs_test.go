package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap/zaptest"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
)

type fakeEnqueuer struct {
	tasks  []*asynq.Task
	opts   [][]asynq.Option
	err    error
	closed bool
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Queue: "mail", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error {
	f.closed = true
	return nil
}

type fakeSender struct {
	sent []SendEmailPayload
	err  error
}

func (f *fakeSender) Send(_ context.Context, payload SendEmailPayload) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, payload)
	return nil
}

type fakePurger struct {
	retention time.Duration
	removed   int
	err       error
}

func (f *fakePurger) Purge(_ context.Context, retention time.Duration) (int, error) {
	f.retention = retention
	return f.removed, f.err
}

func TestClientDispatchEnqueuesMailTask(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := newClient(fake, ClientOptions{Queue: "mail", MaxRetry: 4, Timeout: time.Minute}, zaptest.NewLogger(t))

	notification := domain.Notification{
		Kind:      domain.NotificationPasswordReset,
		AccountID: "account-1",
		From:      "support@example.com",
		To:        "carol@example.com",
		Subject:   "Reset Password",
		Body:      "Reset Password \r\nhttps://console.example.com/user/changePassword?id=account-1&token=abc",
	}
	if err := client.Dispatch(context.Background(), notification); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(fake.tasks) != 1 {
		t.Fatalf("expected one enqueued task, got %d", len(fake.tasks))
	}
	task := fake.tasks[0]
	if task.Type() != TaskTypeSendEmail {
		t.Fatalf("unexpected task type %s", task.Type())
	}

	var payload SendEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if payload.To != notification.To || payload.Subject != notification.Subject || payload.Body != notification.Body {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Kind != string(domain.NotificationPasswordReset) || payload.AccountID != "account-1" {
		t.Fatalf("unexpected payload metadata %+v", payload)
	}

	var queue string
	var retry int
	for _, opt := range fake.opts[0] {
		switch opt.Type() {
		case asynq.QueueOpt:
			queue, _ = opt.Value().(string)
		case asynq.MaxRetryOpt:
			retry, _ = opt.Value().(int)
		}
	}
	if queue != "mail" || retry != 4 {
		t.Fatalf("unexpected options queue=%q retry=%d", queue, retry)
	}
}

func TestClientDispatchWrapsEnqueueError(t *testing.T) {
	boom := errors.New("redis unavailable")
	client := newClient(&fakeEnqueuer{err: boom}, ClientOptions{}, nil)

	err := client.Dispatch(context.Background(), domain.Notification{Kind: domain.NotificationRegistrationConfirmation, To: "a@example.com"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped enqueue error, got %v", err)
	}
}

func TestMailHandlerDeliversPayload(t *testing.T) {
	sender := &fakeSender{}
	handler := NewMailHandler(sender, "support@example.com", zaptest.NewLogger(t))

	task, err := NewSendEmailTask(SendEmailPayload{
		Kind:    string(domain.NotificationRegistrationConfirmation),
		To:      "carol@example.com",
		Subject: "Registration Confirmation",
		Body:    "body",
	})
	if err != nil {
		t.Fatalf("NewSendEmailTask returned error: %v", err)
	}

	mux := buildMux([]TaskHandler{{Type: TaskTypeSendEmail, Handler: handler}})
	if err := mux.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask returned error: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sender.sent))
	}
	if sender.sent[0].From != "support@example.com" {
		t.Fatalf("expected default sender, got %q", sender.sent[0].From)
	}
}

func TestMailHandlerSkipsRetryForBadPayload(t *testing.T) {
	handler := NewMailHandler(&fakeSender{}, "support@example.com", zaptest.NewLogger(t))

	err := handler.ProcessTask(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	task, _ := NewSendEmailTask(SendEmailPayload{Subject: "no recipient"})
	err = handler.ProcessTask(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, errIncompletePayload) {
		t.Fatalf("expected SkipRetry for missing recipient, got %v", err)
	}
}

func TestMailHandlerRetriesDeliveryFailure(t *testing.T) {
	boom := errors.New("smtp down")
	handler := NewMailHandler(&fakeSender{err: boom}, "support@example.com", zaptest.NewLogger(t))

	task, _ := NewSendEmailTask(SendEmailPayload{To: "carol@example.com", Subject: "s", Body: "b"})
	err := handler.ProcessTask(context.Background(), task)
	if !errors.Is(err, boom) {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("delivery failures must be retried")
	}
}

func TestPurgeHandlerUsesRetention(t *testing.T) {
	purger := &fakePurger{removed: 7}
	handler := NewPurgeHandler(purger, 48*time.Hour, zaptest.NewLogger(t))

	if err := handler.ProcessTask(context.Background(), NewPurgeTokensTask()); err != nil {
		t.Fatalf("ProcessTask returned error: %v", err)
	}
	if purger.retention != 48*time.Hour {
		t.Fatalf("unexpected retention %v", purger.retention)
	}

	purger.err = errors.New("db down")
	if err := handler.ProcessTask(context.Background(), NewPurgeTokensTask()); err == nil {
		t.Fatalf("expected purge error")
	}
}
