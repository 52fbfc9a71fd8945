package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/model"
)

type faultRecorder struct {
	mu     sync.Mutex
	faults []error
}

func (f *faultRecorder) ReportFault(err error) {
	f.mu.Lock()
	f.faults = append(f.faults, err)
	f.mu.Unlock()
}

func (f *faultRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.faults)
}

// TestPartialFanOut covers the 9-of-12 scenario: the server reports the
// aggregate and the summary renders it for the sender.
func TestPartialFanOut(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Result{SuccessCount: 9, TotalStudents: 12})
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second, nil, nil, zap.NewNop())
	result, err := d.Broadcast(context.Background(), "faculty1", "Exam moved to Friday", model.KindText)
	if err != nil {
		t.Fatal(err)
	}

	if got.SenderID != "faculty1" || got.Message != "Exam moved to Friday" || got.MessageType != "text" {
		t.Errorf("request = %+v", got)
	}
	if got.RequestID == "" {
		t.Error("request has no id")
	}

	if result.SuccessCount != 9 || result.TotalStudents != 12 {
		t.Errorf("result = %+v", result)
	}
	if !result.Partial() {
		t.Error("Partial() = false for 9 of 12")
	}
	if got := result.Summary(); got != "sent to 9 out of 12" {
		t.Errorf("Summary() = %q, want \"sent to 9 out of 12\"", got)
	}
}

func TestFullFanOutIsNotPartial(t *testing.T) {
	r := Result{SuccessCount: 12, TotalStudents: 12}
	if r.Partial() {
		t.Error("Partial() = true for 12 of 12")
	}
}

func TestNoResponseReportsFault(t *testing.T) {
	faults := &faultRecorder{}
	// Nothing listens on this address.
	d := NewDispatcher("http://127.0.0.1:1/broadcast", 100*time.Millisecond, faults, nil, zap.NewNop())

	_, err := d.Broadcast(context.Background(), "faculty1", "hello", model.KindText)
	if err == nil {
		t.Fatal("Broadcast() should fail with no server")
	}
	if faults.count() != 1 {
		t.Errorf("faults reported = %d, want 1", faults.count())
	}
}

func TestHTTPErrorIsNotAFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	faults := &faultRecorder{}
	d := NewDispatcher(srv.URL, time.Second, faults, nil, zap.NewNop())

	_, err := d.Broadcast(context.Background(), "student7", "not allowed", model.KindText)
	if err == nil {
		t.Fatal("Broadcast() should surface the HTTP error")
	}
	// An HTTP error response proves the server is reachable.
	if faults.count() != 0 {
		t.Errorf("faults reported = %d, want 0", faults.count())
	}
}
