package hook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexusgeo/tablewatch/internal/alert"
)

// Sender runs every discovered hook that handles the alert's table.
// It implements alert.Sender.
type Sender struct {
	manager  *Manager
	executor *Executor
}

// NewSender creates a Sender over the hooks known to manager.
func NewSender(manager *Manager, executor *Executor) *Sender {
	return &Sender{manager: manager, executor: executor}
}

// Send runs the matching hooks in name order and joins their failures.
func (s *Sender) Send(ctx context.Context, a *alert.Alert) error {
	var errs []error
	for _, h := range s.manager.List() {
		if !h.Handles(a.Table) {
			continue
		}

		resp, err := s.executor.Execute(ctx, h, &Request{
			Event:      a.Type,
			Table:      a.Table,
			TrackID:    a.TrackID,
			Confidence: a.Confidence,
			Timestamp:  a.Timestamp.UTC().Format(time.RFC3339),
			Config:     h.Manifest.Config,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !resp.Success {
			errs = append(errs, fmt.Errorf("%w: %s: %s", ErrHookFailed, h.Manifest.Name, resp.Error))
		}
	}
	return errors.Join(errs...)
}
