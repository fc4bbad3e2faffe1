package attendance

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// IdentifierKind tells how a decoded payload identified the student.
type IdentifierKind int

const (
	// KindNumeric is the printed card format: eight space separated 4-digit groups.
	KindNumeric IdentifierKind = iota + 1
	// KindStructured is a JSON object carrying indexNumber, _id or id.
	KindStructured
)

func (k IdentifierKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// identifierKeys are checked in this order when labelling a structured payload.
var identifierKeys = []string{"indexNumber", "_id", "id"}

var numericPattern = regexp.MustCompile(`^[0-9]{4}(?:\s[0-9]{4}){7}$`)

// Identifier is a validated student identifier recovered from a QR payload.
type Identifier struct {
	Kind   IdentifierKind
	Raw    string
	Fields map[string]any
}

// Classify turns decoded QR text into an Identifier. Text that is neither the
// numeric card format nor a JSON object with a known id field is rejected with
// ErrUnrecognizedFormat; arbitrary text is never treated as a raw id.
func Classify(text string) (Identifier, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Identifier{}, fmt.Errorf("empty payload: %w", ErrUnrecognizedFormat)
	}

	if numericPattern.MatchString(trimmed) {
		return Identifier{Kind: KindNumeric, Raw: trimmed}, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(trimmed), &fields); err == nil && fields != nil {
		for _, key := range identifierKeys {
			if v, ok := fields[key]; ok && v != nil {
				return Identifier{Kind: KindStructured, Raw: trimmed, Fields: fields}, nil
			}
		}
	}

	return Identifier{}, ErrUnrecognizedFormat
}

// Payload is the value sent to the marking endpoint: the unchanged numeric
// string, or the decoded JSON object.
func (id Identifier) Payload() any {
	if id.Kind == KindStructured {
		return id.Fields
	}
	return id.Raw
}

// Label is the human readable identifier used in operator messages.
func (id Identifier) Label() string {
	if id.Kind != KindStructured {
		return id.Raw
	}
	for _, key := range identifierKeys {
		if v, ok := id.Fields[key]; ok && v != nil {
			switch val := v.(type) {
			case string:
				return val
			case float64:
				return strconv.FormatFloat(val, 'f', -1, 64)
			default:
				return fmt.Sprint(val)
			}
		}
	}
	return id.Raw
}
