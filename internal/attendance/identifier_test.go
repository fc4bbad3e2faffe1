package attendance

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

func randomGroups(r *rand.Rand, n int) []string {
	groups := make([]string, n)
	for i := range groups {
		groups[i] = fmt.Sprintf("%04d", r.Intn(10000))
	}
	return groups
}

func TestClassifyNumericAcceptedUnchanged(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		text := strings.Join(randomGroups(r, 8), " ")
		id, err := Classify(text)
		if err != nil {
			t.Fatalf("classify %q: %v", text, err)
		}
		if id.Kind != KindNumeric || id.Raw != text {
			t.Fatalf("expected numeric %q unchanged, got %+v", text, id)
		}
		if id.Payload() != text {
			t.Fatalf("payload altered: %v", id.Payload())
		}
	}
}

func TestClassifyTrimsSurroundingWhitespace(t *testing.T) {
	id, err := Classify("  1234 5678 9012 3456 7890 1234 5678 9012\n")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if id.Raw != "1234 5678 9012 3456 7890 1234 5678 9012" {
		t.Fatalf("unexpected raw %q", id.Raw)
	}
}

func TestClassifyNumericShapeViolations(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	cases := []string{
		strings.Join(randomGroups(r, 7), " "),
		strings.Join(randomGroups(r, 9), " "),
		"123 5678 9012 3456 7890 1234 5678 9012",
		"12345 5678 9012 3456 7890 1234 5678 9012",
		"1234-5678-9012-3456-7890-1234-5678-9012",
		"12345678901234567890123456789012",
		"1234  5678 9012 3456 7890 1234 5678 9012",
		"abcd 5678 9012 3456 7890 1234 5678 9012",
		"hello world",
	}
	for _, text := range cases {
		if _, err := Classify(text); !errors.Is(err, ErrUnrecognizedFormat) {
			t.Fatalf("expected %q rejected, got %v", text, err)
		}
	}
}

func TestClassifyStructured(t *testing.T) {
	accepted := []string{
		`{"indexNumber":"IT2021001"}`,
		`{"_id":"64f0c2a1","name":"Nimal"}`,
		`{"id":42}`,
	}
	for _, text := range accepted {
		id, err := Classify(text)
		if err != nil {
			t.Fatalf("classify %s: %v", text, err)
		}
		if id.Kind != KindStructured {
			t.Fatalf("expected structured for %s, got %v", text, id.Kind)
		}
	}

	rejected := []string{
		`{"name":"Nimal"}`,
		`{}`,
		`{"id":null}`,
		`[1,2,3]`,
		`"1234"`,
		`{"index":"IT2021001"`,
	}
	for _, text := range rejected {
		if _, err := Classify(text); !errors.Is(err, ErrUnrecognizedFormat) {
			t.Fatalf("expected %s rejected, got %v", text, err)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	inputs := []string{
		"1234 5678 9012 3456 7890 1234 5678 9012",
		`{"indexNumber":"IT2021001"}`,
		"hello world",
		"",
	}
	for _, text := range inputs {
		a, errA := Classify(text)
		b, errB := Classify(text)
		if (errA == nil) != (errB == nil) {
			t.Fatalf("decision changed for %q", text)
		}
		if a.Kind != b.Kind || a.Raw != b.Raw || a.Label() != b.Label() {
			t.Fatalf("identifier changed for %q: %+v vs %+v", text, a, b)
		}
	}
}

func TestIdentifierLabel(t *testing.T) {
	cases := []struct{ text, want string }{
		{`{"indexNumber":"IT2021001","_id":"abc"}`, "IT2021001"},
		{`{"_id":"abc"}`, "abc"},
		{`{"id":42}`, "42"},
		{"1234 5678 9012 3456 7890 1234 5678 9012", "1234 5678 9012 3456 7890 1234 5678 9012"},
	}
	for _, tc := range cases {
		text, want := tc.text, tc.want
		id, err := Classify(text)
		if err != nil {
			t.Fatalf("classify %s: %v", text, err)
		}
		if got := id.Label(); got != want {
			t.Fatalf("label for %s: want %q got %q", text, want, got)
		}
	}
}

func TestErrMapsOutcomes(t *testing.T) {
	id := Identifier{Kind: KindNumeric, Raw: "1234 5678 9012 3456 7890 1234 5678 9012"}

	if err := Err(Success{Identifier: id}); err != nil {
		t.Fatalf("success should map to nil, got %v", err)
	}
	err := Err(NotFound{Identifier: id})
	if !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), id.Raw) {
		t.Fatalf("not found error should mention identifier: %v", err)
	}
	if err := Err(Duplicate{Identifier: id}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err := Err(ServerError{Message: "dial tcp", Transient: true}); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
	if err := Err(ServerError{StatusCode: 500, Message: "boom"}); !errors.Is(err, ErrServer) {
		t.Fatalf("expected server, got %v", err)
	}
}
