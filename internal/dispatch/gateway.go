// Package dispatch renders and delivers clinical request documents through
// the downstream document service.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nixvet/clinical-engine/internal/domain/request"
	"github.com/nixvet/clinical-engine/pkg/circuitbreaker"
)

// Gateway renders request documents and delivers them to recipients.
type Gateway interface {
	// Render produces the printable document for a clinical request.
	Render(ctx context.Context, req *request.ClinicalRequest) ([]byte, error)
	// Deliver sends the rendered document to the tutor's email address.
	// The outcome is binary: nil means the downstream accepted the delivery.
	Deliver(ctx context.Context, req *request.ClinicalRequest, recipient string) error
}

// HTTPGatewayConfig holds configuration for the HTTP document gateway.
type HTTPGatewayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultHTTPGatewayConfig returns defaults for local development.
func DefaultHTTPGatewayConfig() HTTPGatewayConfig {
	return HTTPGatewayConfig{
		BaseURL: "http://localhost:9090",
		Timeout: 10 * time.Second,
	}
}

// HTTPGateway talks to the document service over HTTP, with calls wrapped in
// a circuit breaker so a degraded downstream fails fast.
type HTTPGateway struct {
	cfg     HTTPGatewayConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPGateway creates a gateway against the configured document service.
func NewHTTPGateway(cfg HTTPGatewayConfig, logger *zap.Logger) (*HTTPGateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	cb, err := circuitbreaker.New(circuitbreaker.DefaultConfig("document-gateway"), logger)
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}

	return &HTTPGateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: cb,
		logger:  logger,
	}, nil
}

var _ Gateway = (*HTTPGateway)(nil)

// renderPayload is the document service's render contract.
type renderPayload struct {
	RequestID string                  `json:"request_id"`
	Kind      string                  `json:"kind"`
	Surgical  bool                    `json:"surgical"`
	Items     []request.RequestedItem `json:"items"`
	Notes     string                  `json:"notes,omitempty"`
	Anchor    map[string]interface{}  `json:"anchor"`
}

func buildPayload(req *request.ClinicalRequest) renderPayload {
	anchor := map[string]interface{}{}
	if req.Anchor.Consultation() {
		anchor["consultation_id"] = req.Anchor.ConsultationID
	} else {
		anchor["patient_id"] = req.Anchor.PatientID
		anchor["date"] = req.Anchor.Date.Format("2006-01-02")
	}
	return renderPayload{
		RequestID: req.ID,
		Kind:      string(req.Kind),
		Surgical:  req.Surgical,
		Items:     req.Items,
		Notes:     req.ClinicalNotes,
		Anchor:    anchor,
	}
}

// Render produces the PDF for a request.
func (g *HTTPGateway) Render(ctx context.Context, req *request.ClinicalRequest) ([]byte, error) {
	body, err := json.Marshal(buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}

	result, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		return g.post(ctx, g.cfg.BaseURL+"/documents/render", body)
	})
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	return result.([]byte), nil
}

// Deliver emails the rendered document to the recipient.
func (g *HTTPGateway) Deliver(ctx context.Context, req *request.ClinicalRequest, recipient string) error {
	payload := struct {
		renderPayload
		Recipient string `json:"recipient"`
	}{buildPayload(req), recipient}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal deliver payload: %w", err)
	}

	_, err = g.breaker.Execute(ctx, func() (interface{}, error) {
		return g.post(ctx, g.cfg.BaseURL+"/documents/deliver", body)
	})
	if err != nil {
		return fmt.Errorf("deliver document: %w", err)
	}

	g.logger.Info("document delivered",
		zap.String("request_id", req.ID),
		zap.String("recipient", recipient))
	return nil
}

func (g *HTTPGateway) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("document service returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
