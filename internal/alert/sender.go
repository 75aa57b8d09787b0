package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// DefaultTimeout bounds one delivery attempt.
const DefaultTimeout = 5 * time.Second

// ErrStatus is returned when the backend answers with a non-2xx status.
var ErrStatus = errors.New("unexpected response status")

// Sender delivers alerts.
type Sender interface {
	Send(ctx context.Context, a *Alert) error
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSender posts alerts as JSON to a backend endpoint.
type HTTPSender struct {
	endpoint string
	client   Doer
	timeout  time.Duration
}

// NewHTTPSender creates a sender for endpoint. A nil client uses
// http.DefaultClient and a non-positive timeout uses DefaultTimeout.
func NewHTTPSender(endpoint string, client Doer, timeout time.Duration) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSender{
		endpoint: endpoint,
		client:   client,
		timeout:  timeout,
	}
}

// Endpoint returns the URL alerts are posted to.
func (s *HTTPSender) Endpoint() string {
	return s.endpoint
}

// Send posts the alert and fails on transport errors or a non-2xx reply.
func (s *HTTPSender) Send(ctx context.Context, a *Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return nil
}

// LogSender writes alerts to a logger instead of delivering them.
type LogSender struct {
	logger *log.Logger
}

// NewLogSender creates a LogSender. A nil logger uses the standard logger.
func NewLogSender(logger *log.Logger) *LogSender {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the alert's wire body.
func (s *LogSender) Send(_ context.Context, a *Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	s.logger.Printf("[API ALERT] %s", body)
	return nil
}

// MultiSender fans an alert out to every sender and joins their errors.
type MultiSender []Sender

// Send delivers to all senders, continuing past failures.
func (m MultiSender) Send(ctx context.Context, a *Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
