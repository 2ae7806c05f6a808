package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/seantiz/warden/internal/model"
)

// DefaultSubject is the NATS subject results are published to when none is
// configured.
const DefaultSubject = "warden.results"

// NATS publishes job results to a NATS subject for the reporting
// collaborator to consume. Connection failures map to ErrRetryLater.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// NewNATS connects to the NATS server at url and returns a handler
// publishing to subject.
func NewNATS(url, subject string) (*NATS, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{nc: nc, subject: subject}, nil
}

// Deliver publishes the result to the configured subject.
func (h *NATS) Deliver(_ context.Context, res *model.JobResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := h.nc.Publish(h.subject, body); err != nil {
		return fmt.Errorf("publish result: %w", ErrRetryLater)
	}
	return nil
}

// Close drains the underlying connection.
func (h *NATS) Close() {
	h.nc.Drain()
}
