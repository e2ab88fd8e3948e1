// Package portal pushes attendance and student records to the lecturer portal API.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"campusattend/internal/remote"
)

const (
	actionRecordAttendance = "record_attendance"
	actionBulkSync         = "bulk_sync_students"
	maxErrorBody           = 512
)

// StudentInfo is the student block of the wire contract.
type StudentInfo struct {
	AdmissionNumber string `json:"admission_number"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
}

// AttendanceInfo is the attendance block of the wire contract.
type AttendanceInfo struct {
	UnitCode             string  `json:"unit_code"`
	UnitName             string  `json:"unit_name"`
	Date                 string  `json:"date"`
	TimeSlot             string  `json:"time_slot"`
	Venue                string  `json:"venue"`
	LecturerName         string  `json:"lecturer_name"`
	Timestamp            string  `json:"timestamp"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

// Record is one attendance mark to push.
type Record struct {
	// AttendanceID is reported as the document id when the portal omits one.
	AttendanceID string
	Student      StudentInfo
	Attendance   AttendanceInfo
}

type recordRequest struct {
	Action     string         `json:"action"`
	Student    StudentInfo    `json:"student"`
	Attendance AttendanceInfo `json:"attendance"`
	APIKey     string         `json:"api_key"`
}

type bulkRequest struct {
	Action   string        `json:"action"`
	Students []StudentInfo `json:"students"`
	APIKey   string        `json:"api_key"`
}

// BulkResult is the outcome of a bulk student push.
type BulkResult struct {
	remote.Result
	SyncedCount int `json:"synced_count"`
}

// Client calls the lecturer portal.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	timeout time.Duration
}

// New creates a client. An empty baseURL disables it.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		timeout: timeout,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a portal URL is configured.
func (c *Client) Enabled() bool { return c != nil && c.BaseURL != "" }

// SyncAttendance posts one record to /api/attendance/record.
func (c *Client) SyncAttendance(ctx context.Context, rec Record) remote.Result {
	if !c.Enabled() {
		return remote.Skip("portal sync disabled (no API URL configured)")
	}
	if rec.Attendance.Timestamp == "" {
		rec.Attendance.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	body := recordRequest{
		Action:     actionRecordAttendance,
		Student:    rec.Student,
		Attendance: rec.Attendance,
		APIKey:     c.APIKey,
	}

	var out struct {
		Success bool   `json:"success"`
		ID      any    `json:"id"`
		Error   string `json:"error"`
	}
	if res, ok := c.post(ctx, "/api/attendance/record", body, &out); !ok {
		return res
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "portal returned error"
		}
		return remote.Fail(remote.KindRejected, "%s", msg)
	}
	id := rec.AttendanceID
	if out.ID != nil && fmt.Sprint(out.ID) != "" {
		id = fmt.Sprint(out.ID)
	}
	return remote.OK(id, "attendance synced to portal")
}

// SyncStudentsBulk posts a batch of students to /api/students/bulk-sync.
func (c *Client) SyncStudentsBulk(ctx context.Context, students []StudentInfo) BulkResult {
	if !c.Enabled() {
		return BulkResult{Result: remote.Skip("portal bulk sync disabled")}
	}
	body := bulkRequest{Action: actionBulkSync, Students: students, APIKey: c.APIKey}

	out := struct {
		Success     *bool  `json:"success"`
		Message     string `json:"message"`
		SyncedCount *int   `json:"synced_count"`
		Error       string `json:"error"`
	}{}
	if res, ok := c.post(ctx, "/api/students/bulk-sync", body, &out); !ok {
		return BulkResult{Result: res}
	}
	if out.Success != nil && !*out.Success {
		return BulkResult{Result: remote.Fail(remote.KindRejected, "%s", out.Error)}
	}
	count := len(students)
	if out.SyncedCount != nil {
		count = *out.SyncedCount
	}
	msg := out.Message
	if msg == "" {
		msg = "bulk sync completed"
	}
	return BulkResult{Result: remote.Result{Success: true, Message: msg}, SyncedCount: count}
}

// post sends a JSON body and decodes a 2xx JSON response into out.
func (c *Client) post(ctx context.Context, path string, in, out any) (remote.Result, bool) {
	payload, err := json.Marshal(in)
	if err != nil {
		return remote.Fail(remote.KindUnexpected, "encode request: %v", err), false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return remote.Fail(remote.KindUnexpected, "build request: %v", err), false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		switch kind := remote.Classify(err); kind {
		case remote.KindTimeout:
			return remote.Fail(kind, "portal sync timeout (>%s)", c.timeout), false
		case remote.KindConnection:
			return remote.Fail(kind, "failed to connect to portal: %v", err), false
		default:
			return remote.Fail(kind, "portal request failed: %v", err), false
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return remote.Fail(remote.KindHTTPError, "portal error %s: %s", resp.Status, strings.TrimSpace(string(bodyBytes))), false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return remote.Fail(remote.KindTimeout, "portal sync timeout (>%s)", c.timeout), false
		}
		return remote.Fail(remote.KindUnexpected, "failed to decode response: %v", err), false
	}
	return remote.Result{}, true
}
