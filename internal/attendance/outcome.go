package attendance

import (
	"fmt"
	"time"
)

// OutcomeKind discriminates the result of a marking request.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeNotFound  OutcomeKind = "not_found"
	OutcomeError     OutcomeKind = "error"
)

// Message types carried in an attendance message history.
const (
	MessageWhatsApp = "whatsapp"
)

// Student is the summary returned by the marking endpoint.
type Student struct {
	ID          string `json:"_id"`
	IndexNumber string `json:"indexNumber"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	ParentPhone string `json:"parentPhone,omitempty"`
	WhatsApp    string `json:"whatsappNumber,omitempty"`
}

// HasContact reports whether any number exists that a notification could reach.
func (s Student) HasContact() bool {
	return s.Phone != "" || s.ParentPhone != "" || s.WhatsApp != ""
}

// Message is one entry of the attendance message history.
type Message struct {
	ID        string    `json:"_id,omitempty"`
	Type      string    `json:"type"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Sent      bool      `json:"sent,omitempty"`
}

// State is the attendance record after marking.
type State struct {
	ID       string    `json:"_id,omitempty"`
	Status   string    `json:"status"`
	Time     time.Time `json:"time,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// Outcome is one of Success, Duplicate, NotFound or ServerError.
type Outcome interface {
	Kind() OutcomeKind
	outcome()
}

// Success means attendance was recorded.
type Success struct {
	Identifier       Identifier
	Student          Student
	Attendance       State
	Message          string
	NotificationURL  string
	NotificationSent bool
}

// Duplicate means attendance was already recorded for the period.
type Duplicate struct {
	Identifier Identifier
	Student    *Student
	Message    string
}

// NotFound means no student matched the identifier.
type NotFound struct {
	Identifier Identifier
	Message    string
}

// ServerError covers network faults and unexpected responses.
type ServerError struct {
	Identifier Identifier
	StatusCode int
	Message    string
	Transient  bool
}

func (Success) Kind() OutcomeKind     { return OutcomeSuccess }
func (Duplicate) Kind() OutcomeKind   { return OutcomeDuplicate }
func (NotFound) Kind() OutcomeKind    { return OutcomeNotFound }
func (ServerError) Kind() OutcomeKind { return OutcomeError }

func (Success) outcome()     {}
func (Duplicate) outcome()   {}
func (NotFound) outcome()    {}
func (ServerError) outcome() {}

// Err converts a non-success outcome into an error wrapping the matching
// sentinel. It returns nil for Success.
func Err(o Outcome) error {
	switch v := o.(type) {
	case Success:
		return nil
	case Duplicate:
		name := v.Identifier.Label()
		if v.Student != nil && v.Student.Name != "" {
			name = v.Student.Name
		}
		return fmt.Errorf("%s: %w", name, ErrDuplicate)
	case NotFound:
		return fmt.Errorf("no student for QR code %s: %w", v.Identifier.Label(), ErrNotFound)
	case ServerError:
		if v.Transient {
			return fmt.Errorf("%s: %w", v.Message, ErrTransient)
		}
		if v.StatusCode != 0 {
			return fmt.Errorf("status %d: %s: %w", v.StatusCode, v.Message, ErrServer)
		}
		return fmt.Errorf("%s: %w", v.Message, ErrServer)
	default:
		return fmt.Errorf("unexpected outcome %T: %w", o, ErrServer)
	}
}
