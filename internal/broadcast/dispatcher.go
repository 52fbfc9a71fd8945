package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classline/classline/internal/bus"
	"github.com/classline/classline/internal/model"
)

// FaultReporter receives REST failures that produced no HTTP response.
// The connectivity monitor implements it.
type FaultReporter interface {
	ReportFault(err error)
}

// Result is the server's aggregate fan-out report. The server replicates
// the message into each target room; the client never loops over rooms.
type Result struct {
	SuccessCount  int `json:"successCount"`
	TotalStudents int `json:"totalStudents"`
}

// Summary renders the partial-failure message shown to the sender.
func (r Result) Summary() string {
	return fmt.Sprintf("sent to %d out of %d", r.SuccessCount, r.TotalStudents)
}

// Partial reports whether the broadcast reached fewer than all targets.
func (r Result) Partial() bool {
	return r.SuccessCount < r.TotalStudents
}

type request struct {
	RequestID   string `json:"requestId"`
	SenderID    string `json:"senderId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
}

// Dispatcher issues one logical broadcast request and surfaces the
// aggregate result. A partial result is a report, not an error; the
// failed subset is never retried automatically.
type Dispatcher struct {
	endpoint string
	client   *http.Client
	faults   FaultReporter
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher for the given broadcast endpoint.
func NewDispatcher(endpoint string, timeout time.Duration, faults FaultReporter, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		faults:   faults,
		bus:      b,
		logger:   logger,
	}
}

// Broadcast sends body to every room the sender owns and returns the
// server's {successCount, totalStudents} report.
func (d *Dispatcher) Broadcast(ctx context.Context, senderID, body string, kind model.Kind) (*Result, error) {
	payload, err := json.Marshal(request{
		RequestID:   uuid.NewString(),
		SenderID:    senderID,
		Message:     body,
		MessageType: string(kind),
	})
	if err != nil {
		return nil, fmt.Errorf("encode broadcast: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build broadcast request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		// No HTTP response at all: this is a connectivity signal, not a
		// broadcast-specific failure.
		if d.faults != nil {
			d.faults.ReportFault(err)
		}
		return nil, fmt.Errorf("broadcast request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broadcast rejected: status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode broadcast result: %w", err)
	}

	d.logger.Info("broadcast dispatched",
		zap.Int("success", result.SuccessCount),
		zap.Int("total", result.TotalStudents))
	if d.bus != nil {
		d.bus.Publish(bus.E("broadcast.sent", result))
	}
	return &result, nil
}
