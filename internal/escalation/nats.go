package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/logging"
)

// DefaultRetryInterval is the pause between unanswered NATS requests.
const DefaultRetryInterval = 5 * time.Second

// NATS reaches a remote operator through request/reply. Requests go to
// <prefix>.tool_failure and <prefix>.plan_failure; the operator replies with
// a JSON Guidance or PlanGuidance. Invalid or missing replies are re-requested.
type NATS struct {
	conn          *nats.Conn
	prefix        string
	timeout       time.Duration
	retryInterval time.Duration
	logger        *logging.Logger
}

// NATSConfig configures the NATS responder.
type NATSConfig struct {
	Prefix         string
	RequestTimeout time.Duration
	RetryInterval  time.Duration
}

// NewNATS creates a responder on an established connection.
func NewNATS(conn *nats.Conn, cfg NATSConfig) *NATS {
	if cfg.Prefix == "" {
		cfg.Prefix = "taskloop.escalation"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &NATS{
		conn:          conn,
		prefix:        cfg.Prefix,
		timeout:       cfg.RequestTimeout,
		retryInterval: cfg.RetryInterval,
		logger:        logging.New().WithComponent("escalation"),
	}
}

// ToolFailure publishes the request and waits for valid guidance.
func (n *NATS) ToolFailure(ctx context.Context, req ToolFailureRequest) (Guidance, error) {
	var g Guidance
	err := n.request(ctx, n.prefix+".tool_failure", req, func(data []byte) error {
		var err error
		g, err = decodeGuidance(data)
		return err
	})
	return g, err
}

// PlanFailure publishes the request and waits for valid plan guidance.
func (n *NATS) PlanFailure(ctx context.Context, req PlanFailureRequest) (PlanGuidance, error) {
	var g PlanGuidance
	err := n.request(ctx, n.prefix+".plan_failure", req, func(data []byte) error {
		var err error
		g, err = decodePlanGuidance(data)
		return err
	})
	return g, err
}

func (n *NATS) request(ctx context.Context, subject string, payload interface{}, accept func([]byte) error) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation: %w", err)
	}

	for {
		reqCtx, cancel := context.WithTimeout(ctx, n.timeout)
		msg, err := n.conn.RequestWithContext(reqCtx, subject, data)
		cancel()

		switch {
		case err == nil:
			aerr := accept(msg.Data)
			if aerr == nil {
				return nil
			}
			n.logger.Warn("invalid escalation reply, asking again", map[string]interface{}{
				"subject": subject,
				"error":   aerr.Error(),
			})
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
			return fmt.Errorf("%w: %v", ErrNoResponder, err)
		default:
			n.logger.Debug("no escalation reply yet", map[string]interface{}{
				"subject": subject,
				"error":   err.Error(),
			})
		}

		select {
		case <-time.After(n.retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func decodeGuidance(data []byte) (Guidance, error) {
	var g Guidance
	if err := json.Unmarshal(data, &g); err != nil {
		return Guidance{}, fmt.Errorf("failed to parse guidance: %w", err)
	}
	return g, g.Validate()
}

func decodePlanGuidance(data []byte) (PlanGuidance, error) {
	var g PlanGuidance
	if err := json.Unmarshal(data, &g); err != nil {
		return PlanGuidance{}, fmt.Errorf("failed to parse plan guidance: %w", err)
	}
	return g, g.Validate()
}
