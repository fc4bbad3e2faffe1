package attendclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qrattend/internal/attendance"
)

const cardNumber = "1234 5678 9012 3456 7890 1234 5678 9012"

func numericID() attendance.Identifier {
	return attendance.Identifier{Kind: attendance.KindNumeric, Raw: cardNumber}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, 2*time.Second, "Main Gate", "qrattend-test/1.0")
}

func TestMarkSuccessSendsIdentifierAndMetadata(t *testing.T) {
	var got map[string]any
	var auth, agent string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/attendance/scan" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		agent = r.Header.Get("User-Agent")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{
			"success": true,
			"message": "Entry recorded",
			"data": {
				"student": {"_id": "s1", "name": "Nimal Perera", "indexNumber": "IT001", "parentPhone": "94771234567"},
				"attendance": {"_id": "a1", "status": "entered", "messages": [
					{"_id": "m1", "type": "whatsapp", "url": "https://wa.me/94771234567?text=hi", "createdAt": "2026-10-17T08:00:00Z"}
				]}
			}
		}`))
	})
	c.SetToken("tok")

	out := c.Mark(context.Background(), numericID())
	success, ok := out.(attendance.Success)
	if !ok {
		t.Fatalf("expected success, got %#v", out)
	}
	if success.Student.Name != "Nimal Perera" || success.Attendance.Status != "entered" {
		t.Fatalf("unexpected success payload %+v", success)
	}
	if len(success.Attendance.Messages) != 1 || success.Attendance.Messages[0].Type != attendance.MessageWhatsApp {
		t.Fatalf("messages not mapped: %+v", success.Attendance.Messages)
	}
	if got["qrCodeData"] != cardNumber || got["scanLocation"] != "Main Gate" || got["deviceInfo"] != "qrattend-test/1.0" {
		t.Fatalf("unexpected request body %v", got)
	}
	if auth != "Bearer tok" || agent != "qrattend-test/1.0" {
		t.Fatalf("unexpected headers auth=%q agent=%q", auth, agent)
	}
}

func TestMarkStructuredSendsObject(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"success": true}`))
	})
	id, err := attendance.Classify(`{"indexNumber":"IT001"}`)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if _, ok := c.Mark(context.Background(), id).(attendance.Success); !ok {
		t.Fatalf("expected success")
	}
	obj, ok := got["qrCodeData"].(map[string]any)
	if !ok || obj["indexNumber"] != "IT001" {
		t.Fatalf("structured payload not sent as object: %v", got)
	}
}

func TestMarkMapsFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   attendance.OutcomeKind
	}{
		{"conflict", http.StatusConflict, `{"success":false,"message":"duplicate"}`, attendance.OutcomeDuplicate},
		{"already marked text", http.StatusBadRequest, `{"success":false,"message":"Attendance already marked for today"}`, attendance.OutcomeDuplicate},
		{"not found status", http.StatusNotFound, `{"success":false,"message":"Student not found"}`, attendance.OutcomeNotFound},
		{"not found type", http.StatusBadRequest, `{"success":false,"errorType":"not_found"}`, attendance.OutcomeNotFound},
		{"server", http.StatusInternalServerError, `oops`, attendance.OutcomeError},
		{"unsuccessful 200", http.StatusOK, `{"success":false,"message":"closed"}`, attendance.OutcomeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			out := c.Mark(context.Background(), numericID())
			if out.Kind() != tc.want {
				t.Fatalf("want %s got %s (%#v)", tc.want, out.Kind(), out)
			}
		})
	}
}

func TestMarkTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	out := New(base, time.Second, "", "").Mark(context.Background(), numericID())
	se, ok := out.(attendance.ServerError)
	if !ok || !se.Transient {
		t.Fatalf("expected transient server error, got %#v", out)
	}
	if !errors.Is(attendance.Err(out), attendance.ErrTransient) {
		t.Fatalf("expected transient error mapping")
	}
}

func TestLoginStoresToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"token":"abc"}}`))
	})
	token, err := c.Login(context.Background(), "admin@school.lk", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token != "abc" || c.Token() != "abc" {
		t.Fatalf("token not stored: %q %q", token, c.Token())
	}
}

func TestLoginUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := c.Login(context.Background(), "a", "b"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestStudentQRAndDownload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/students/s1/qr-code":
			_, _ = w.Write([]byte(`{"data":{"qrCode":"` + cardNumber + `","qrCodeUrl":"https://cdn/qr.png"}}`))
		case "/students/s1/qr-code/download":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	qr, err := c.StudentQR(ctx, "s1")
	if err != nil {
		t.Fatalf("student qr: %v", err)
	}
	if qr.Data != cardNumber || qr.StudentID != "s1" || qr.ImageURL != "https://cdn/qr.png" {
		t.Fatalf("unexpected qr %+v", qr)
	}

	data, ct, err := c.DownloadQR(ctx, "s1")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if ct != "image/png" || len(data) != 8 {
		t.Fatalf("unexpected download %q %d", ct, len(data))
	}

	if _, err := c.StudentQR(ctx, "missing"); !errors.Is(err, attendance.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkNotificationSent(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.MarkNotificationSent(context.Background(), "a1", "m1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if path != "/attendance/a1/messages/m1/sent" {
		t.Fatalf("unexpected path %s", path)
	}
}
