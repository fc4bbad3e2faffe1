package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
)

type fakeOpener struct {
	mu     sync.Mutex
	opened []string
	err    error
}

func (f *fakeOpener) Open(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.opened = append(f.opened, url)
	return nil
}

func (f *fakeOpener) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

type fakeAcker struct {
	attendanceID, messageID string
}

func (f *fakeAcker) MarkNotificationSent(_ context.Context, attendanceID, messageID string) error {
	f.attendanceID, f.messageID = attendanceID, messageID
	return nil
}

type countRecorder map[string]int

func (c countRecorder) Notification(result string) { c[result]++ }

func success(messages ...attendance.Message) attendance.Success {
	return attendance.Success{
		Student:    attendance.Student{ID: "s1", Name: "Nimal", ParentPhone: "94771234567"},
		Attendance: attendance.State{ID: "a1", Status: "entered", Messages: messages},
	}
}

func TestSelectNewestWhatsAppMessage(t *testing.T) {
	base := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	s := success(
		attendance.Message{ID: "m1", Type: "whatsapp", URL: "https://wa.me/old", CreatedAt: base},
		attendance.Message{ID: "m2", Type: "sms", URL: "sms:123", CreatedAt: base.Add(2 * time.Minute)},
		attendance.Message{ID: "m3", Type: "whatsapp", URL: "https://wa.me/new", CreatedAt: base.Add(time.Minute)},
	)
	link, ok := Select(s)
	if !ok || link.URL != "https://wa.me/new" || link.MessageID != "m3" {
		t.Fatalf("unexpected selection %+v %v", link, ok)
	}
}

func TestSelectPrefersReadyMadeURL(t *testing.T) {
	s := success(attendance.Message{Type: "whatsapp", URL: "https://wa.me/history"})
	s.NotificationURL = "https://wa.me/ready"
	if link, ok := Select(s); !ok || link.URL != "https://wa.me/ready" {
		t.Fatalf("expected ready-made url, got %+v", link)
	}
}

func TestSelectSkips(t *testing.T) {
	noContact := success(attendance.Message{Type: "whatsapp", URL: "https://wa.me/x"})
	noContact.Student = attendance.Student{Name: "Nimal"}

	alreadySent := success(attendance.Message{Type: "whatsapp", URL: "https://wa.me/x"})
	alreadySent.NotificationSent = true

	latestSent := success(attendance.Message{Type: "whatsapp", URL: "https://wa.me/x", Sent: true})

	for name, s := range map[string]attendance.Success{
		"no contact":   noContact,
		"already sent": alreadySent,
		"latest sent":  latestSent,
		"no messages":  success(),
	} {
		if link, ok := Select(s); ok {
			t.Fatalf("%s: expected no dispatch, got %+v", name, link)
		}
	}
}

func TestDispatchOpensAndAcks(t *testing.T) {
	opener := &fakeOpener{}
	acker := &fakeAcker{}
	rec := countRecorder{}
	d := NewDispatcher(opener, acker, rec)

	url, ok := d.Dispatch(context.Background(), success(attendance.Message{ID: "m1", Type: "whatsapp", URL: "https://wa.me/1"}))
	if !ok || url != "https://wa.me/1" {
		t.Fatalf("expected dispatch, got %q %v", url, ok)
	}
	if acker.attendanceID != "a1" || acker.messageID != "m1" {
		t.Fatalf("expected ack for a1/m1, got %+v", acker)
	}

	if _, ok := d.Dispatch(context.Background(), success()); ok {
		t.Fatalf("empty message list must not dispatch")
	}
	if got := opener.urls(); len(got) != 1 {
		t.Fatalf("expected exactly one opened link, got %v", got)
	}
	if rec[ResultOpened] != 1 || rec[ResultSkipped] != 1 {
		t.Fatalf("unexpected counts %v", rec)
	}
}

func TestDispatchFailureIsNotFatal(t *testing.T) {
	rec := countRecorder{}
	d := NewDispatcher(&fakeOpener{err: errors.New("popup blocked")}, nil, rec)
	url, ok := d.Dispatch(context.Background(), success(attendance.Message{Type: "whatsapp", URL: "https://wa.me/1"}))
	if ok || url != "https://wa.me/1" {
		t.Fatalf("expected failed dispatch to report url without success, got %q %v", url, ok)
	}
	if rec[ResultFailed] != 1 {
		t.Fatalf("expected failure counted, got %v", rec)
	}
}

func TestRunConsumesQueueHookEvents(t *testing.T) {
	q := queue.NewInMemory(4)
	hook := NewQueueHook(q)
	opener := &fakeOpener{}
	d := NewDispatcher(opener, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, q) }()

	s := success(attendance.Message{Type: "whatsapp", URL: "https://wa.me/queued"})
	s.Identifier = attendance.Identifier{Kind: attendance.KindNumeric, Raw: "1234 5678 9012 3456 7890 1234 5678 9012"}
	if err := hook.OnSuccess(ctx, s); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(opener.urls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := opener.urls(); len(got) != 1 || got[0] != "https://wa.me/queued" {
		t.Fatalf("expected queued link opened, got %v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestQueueHookPublishIsBounded(t *testing.T) {
	q := queue.NewInMemory(1)
	h := NewQueueHook(q)
	h.timeout = 20 * time.Millisecond
	s := attendance.Success{Student: attendance.Student{Name: "Nimal"}}

	if err := h.OnSuccess(context.WithoutCancel(context.Background()), s); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.OnSuccess(context.WithoutCancel(context.Background()), s) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded on a full queue, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("publish to a full queue with no consumer blocked")
	}
}
