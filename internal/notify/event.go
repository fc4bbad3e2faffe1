package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
)

// SuccessEvent is the wire form of a successful mark on the event queue.
type SuccessEvent struct {
	ID               string             `json:"id"`
	At               time.Time          `json:"at"`
	Identifier       string             `json:"identifier"`
	Student          attendance.Student `json:"student"`
	Attendance       attendance.State   `json:"attendance"`
	NotificationURL  string             `json:"notificationUrl,omitempty"`
	NotificationSent bool               `json:"notificationSent,omitempty"`
}

// NewSuccessEvent captures the fields the notifier needs.
func NewSuccessEvent(s attendance.Success) SuccessEvent {
	return SuccessEvent{
		ID:               uuid.NewString(),
		At:               time.Now().UTC(),
		Identifier:       s.Identifier.Label(),
		Student:          s.Student,
		Attendance:       s.Attendance,
		NotificationURL:  s.NotificationURL,
		NotificationSent: s.NotificationSent,
	}
}

// Success rebuilds the outcome on the consumer side.
func (e SuccessEvent) Success() attendance.Success {
	return attendance.Success{
		Identifier:       attendance.Identifier{Kind: attendance.KindNumeric, Raw: e.Identifier},
		Student:          e.Student,
		Attendance:       e.Attendance,
		NotificationURL:  e.NotificationURL,
		NotificationSent: e.NotificationSent,
	}
}

// DefaultPublishTimeout bounds one publish of a success event.
const DefaultPublishTimeout = 5 * time.Second

// QueueHook publishes every successful mark to a queue. It is the scanner's
// post-success hook; the Dispatcher subscribes on the other side.
type QueueHook struct {
	q       queue.Queue
	timeout time.Duration
}

// NewQueueHook creates a hook publishing to q.
func NewQueueHook(q queue.Queue) *QueueHook {
	return &QueueHook{q: q, timeout: DefaultPublishTimeout}
}

// OnSuccess implements scanner.SuccessHook.
func (h *QueueHook) OnSuccess(ctx context.Context, s attendance.Success) error {
	body, err := json.Marshal(NewSuccessEvent(s))
	if err != nil {
		return fmt.Errorf("encode success event: %w", err)
	}
	// submissions run on a context that is never cancelled
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.q.Publish(ctx, queue.Message{Type: queue.TypeAttendanceSuccess, Body: body}); err != nil {
		return fmt.Errorf("publish success event: %w", err)
	}
	return nil
}
