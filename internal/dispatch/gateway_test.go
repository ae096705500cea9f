package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nixvet/clinical-engine/internal/domain/request"
)

func testRequest() *request.ClinicalRequest {
	return &request.ClinicalRequest{
		ID:       "req-001",
		TenantID: "clinic-a",
		Kind:     request.KindPrescription,
		Anchor: request.Anchor{
			PatientID: "patient-9",
			Date:      time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		VeterinarianID: "vet-1",
		Items: []request.RequestedItem{
			{CatalogItemID: 11, Name: "Amoxicillin 250mg", Medication: &request.MedicationAttributes{Dosage: "1 tablet"}},
		},
	}
}

func newTestGateway(t *testing.T, url string) *HTTPGateway {
	t.Helper()
	gw, err := NewHTTPGateway(HTTPGatewayConfig{BaseURL: url, Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("gateway creation failed: %v", err)
	}
	return gw
}

func TestRenderReturnsDocument(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		if payload["request_id"] != "req-001" {
			t.Errorf("request_id = %v, want req-001", payload["request_id"])
		}
		anchor, _ := payload["anchor"].(map[string]interface{})
		if anchor["patient_id"] != "patient-9" || anchor["date"] != "2026-03-14" {
			t.Errorf("unexpected anchor: %v", anchor)
		}

		w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL)

	doc, err := gw.Render(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if gotPath != "/documents/render" {
		t.Errorf("path = %s, want /documents/render", gotPath)
	}
	if string(doc) != "%PDF-1.7 fake" {
		t.Errorf("unexpected document body: %q", doc)
	}
}

func TestDeliverSendsRecipient(t *testing.T) {
	var gotRecipient string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Recipient string `json:"recipient"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		gotRecipient = payload.Recipient
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL)

	if err := gw.Deliver(context.Background(), testRequest(), "tutor@example.com"); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if gotRecipient != "tutor@example.com" {
		t.Errorf("recipient = %q, want tutor@example.com", gotRecipient)
	}
}

func TestDeliverSurfacesDownstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "smtp unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL)

	err := gw.Deliver(context.Background(), testRequest(), "tutor@example.com")
	if err == nil {
		t.Fatal("expected error for downstream 502")
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL)
	req := testRequest()

	for i := 0; i < 6; i++ {
		gw.Deliver(context.Background(), req, "tutor@example.com")
	}

	if !gw.breaker.IsOpen() {
		t.Errorf("breaker state = %s, want open after consecutive failures", gw.breaker.GetState())
	}
}
