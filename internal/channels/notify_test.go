package channels

import (
	"context"
	"errors"
	"testing"
)

type fakeNotifier struct {
	sent   []string
	failOn string
}

func (f *fakeNotifier) Send(ctx context.Context, target, text string) error {
	if target == f.failOn {
		return errors.New("delivery refused")
	}
	f.sent = append(f.sent, target+":"+text)
	return nil
}

func TestDispatcherRoutesToRegisteredPlatform(t *testing.T) {
	d := NewDispatcher()
	tg := &fakeNotifier{}
	d.Register("telegram", tg)

	if err := d.Send(context.Background(), "telegram", "123", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tg.sent) != 1 || tg.sent[0] != "123:hello" {
		t.Fatalf("message not delivered as expected: %v", tg.sent)
	}
}

func TestDispatcherErrorsOnUnknownPlatform(t *testing.T) {
	d := NewDispatcher()
	if err := d.Send(context.Background(), "slack", "C1", "hi"); err == nil {
		t.Fatalf("expected error for unregistered platform")
	}
}

func TestDispatcherRegisterNilIsNoop(t *testing.T) {
	d := NewDispatcher()
	d.Register("discord", nil)
	if len(d.Platforms()) != 0 {
		t.Fatalf("expected no platforms registered, got %v", d.Platforms())
	}
}

func TestDispatcherPropagatesNotifierError(t *testing.T) {
	d := NewDispatcher()
	d.Register("telegram", &fakeNotifier{failOn: "bad"})
	if err := d.Send(context.Background(), "telegram", "bad", "x"); err == nil {
		t.Fatalf("expected delivery error to propagate")
	}
}
