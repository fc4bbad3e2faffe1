package attendclient

import (
	"net/http"
	"strings"

	"qrattend/internal/attendance"
)

type markRequest struct {
	QRCodeData   any    `json:"qrCodeData"`
	ScanLocation string `json:"scanLocation,omitempty"`
	DeviceInfo   string `json:"deviceInfo,omitempty"`
}

type markData struct {
	Student          *attendance.Student `json:"student"`
	Attendance       *attendance.State   `json:"attendance"`
	WhatsAppURL      string              `json:"whatsappUrl"`
	NotificationSent bool                `json:"notificationSent"`
}

type markResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Error     string   `json:"error"`
	ErrorType string   `json:"errorType"`
	Data      markData `json:"data"`

	// some deployments return the payload at the top level
	Student    *attendance.Student `json:"student"`
	Attendance *attendance.State   `json:"attendance"`
}

// mapMarkResponse is the only place response shapes are interpreted.
func mapMarkResponse(status int, body markResponse, id attendance.Identifier) attendance.Outcome {
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	student := body.Data.Student
	if student == nil {
		student = body.Student
	}
	state := body.Data.Attendance
	if state == nil {
		state = body.Attendance
	}

	switch {
	case status == http.StatusConflict || isDuplicate(body):
		return attendance.Duplicate{Identifier: id, Student: student, Message: msg}
	case status == http.StatusNotFound || isNotFound(body):
		return attendance.NotFound{Identifier: id, Message: msg}
	case status >= 200 && status < 300 && body.Success:
		out := attendance.Success{
			Identifier:       id,
			Message:          msg,
			NotificationURL:  body.Data.WhatsAppURL,
			NotificationSent: body.Data.NotificationSent,
		}
		if student != nil {
			out.Student = *student
		}
		if state != nil {
			out.Attendance = *state
		}
		return out
	case status >= 200 && status < 300:
		if msg == "" {
			msg = "request was not successful"
		}
		return attendance.ServerError{Identifier: id, StatusCode: status, Message: msg}
	default:
		if msg == "" {
			msg = http.StatusText(status)
		}
		return attendance.ServerError{Identifier: id, StatusCode: status, Message: msg}
	}
}

func isDuplicate(body markResponse) bool {
	switch strings.ToLower(body.ErrorType) {
	case "duplicate", "already_marked":
		return true
	}
	text := strings.ToLower(body.Message + " " + body.Error)
	return strings.Contains(text, "already marked") || strings.Contains(text, "already recorded")
}

func isNotFound(body markResponse) bool {
	switch strings.ToLower(body.ErrorType) {
	case "not_found", "student_not_found":
		return true
	}
	return !body.Success && strings.Contains(strings.ToLower(body.Message+" "+body.Error), "student not found")
}
