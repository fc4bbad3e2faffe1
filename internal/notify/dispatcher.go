package notify

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/pkg/browser"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
)

// Opener opens a link in a new browsing context.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// BrowserOpener opens links in the station's default browser.
type BrowserOpener struct{}

// Open implements Opener.
func (BrowserOpener) Open(_ context.Context, url string) error {
	return browser.OpenURL(url)
}

// Acker records on the API that a notification went out.
type Acker interface {
	MarkNotificationSent(ctx context.Context, attendanceID, messageID string) error
}

// Recorder counts dispatch results.
type Recorder interface {
	Notification(result string)
}

// Dispatch results reported to the Recorder.
const (
	ResultOpened  = "opened"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// Link is the notification link picked for a mark.
type Link struct {
	URL       string
	MessageID string
}

// Select picks the link to open for a successful mark. A ready-made URL wins;
// otherwise the newest WhatsApp entry of the message history is used. Nothing
// is selected when the student has no contact number or the notification
// was already sent.
func Select(s attendance.Success) (Link, bool) {
	if s.NotificationSent || !s.Student.HasContact() {
		return Link{}, false
	}
	if s.NotificationURL != "" {
		return Link{URL: s.NotificationURL}, true
	}

	var latest *attendance.Message
	for i := range s.Attendance.Messages {
		m := &s.Attendance.Messages[i]
		if !strings.EqualFold(m.Type, attendance.MessageWhatsApp) || m.URL == "" {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}
	if latest == nil || latest.Sent {
		return Link{}, false
	}
	return Link{URL: latest.URL, MessageID: latest.ID}, true
}

// Dispatcher opens parent notification links after successful marks.
type Dispatcher struct {
	opener   Opener
	acker    Acker
	recorder Recorder
}

// NewDispatcher creates a dispatcher. acker and recorder may be nil.
func NewDispatcher(opener Opener, acker Acker, recorder Recorder) *Dispatcher {
	return &Dispatcher{opener: opener, acker: acker, recorder: recorder}
}

// Dispatch opens the selected link, if any. Failures are logged and never
// returned: the mark has already succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, s attendance.Success) (string, bool) {
	link, ok := Select(s)
	if !ok || d.opener == nil {
		d.record(ResultSkipped)
		return "", false
	}

	if err := d.opener.Open(ctx, link.URL); err != nil {
		log.Printf("WARNING: open notification link for %s failed: %v", s.Student.Name, err)
		d.record(ResultFailed)
		return link.URL, false
	}
	d.record(ResultOpened)

	if d.acker != nil && link.MessageID != "" && s.Attendance.ID != "" {
		if err := d.acker.MarkNotificationSent(ctx, s.Attendance.ID, link.MessageID); err != nil {
			log.Printf("WARNING: ack notification %s failed: %v", link.MessageID, err)
		}
	}
	return link.URL, true
}

// OnSuccess lets the dispatcher run in-process as a scanner hook.
func (d *Dispatcher) OnSuccess(ctx context.Context, s attendance.Success) error {
	d.Dispatch(ctx, s)
	return nil
}

// Run consumes success events from q until ctx ends.
func (d *Dispatcher) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != queue.TypeAttendanceSuccess {
			continue
		}
		var evt SuccessEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("ERROR: decode success event: %v", err)
			continue
		}
		if url, ok := d.Dispatch(ctx, evt.Success()); ok {
			log.Printf("event %s: opened notification %s", evt.ID, url)
		}
	}
	return ctx.Err()
}

func (d *Dispatcher) record(result string) {
	if d.recorder != nil {
		d.recorder.Notification(result)
	}
}
