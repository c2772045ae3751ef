package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"productshot/internal/domain"
)

func testOrder() Order {
	return Order{
		JobID:     "job-1",
		UserID:    "user-1",
		UserEmail: "user@example.com",
		ImageURLs: []string{"https://cdn/in.jpg"},
		Prompt:    "clean white background",
		Product:   domain.ProductMeta{Name: "Mug", Category: "kitchen"},
	}
}

func TestSendAccepted(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "https://api.example.com/api/webhook/callback", 5*time.Second, zerolog.Nop())
	outcome := c.Send(context.Background(), testOrder())

	if outcome.Result != Accepted {
		t.Fatalf("result = %s, want accepted", outcome.Result)
	}
	if got["jobId"] != "job-1" || got["userEmail"] != "user@example.com" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if got["callbackUrl"] != "https://api.example.com/api/webhook/callback" {
		t.Fatalf("callback url missing from payload: %v", got)
	}
	if got["productName"] != "Mug" {
		t.Fatalf("product metadata missing: %v", got)
	}
	if _, present := got["productSku"]; present {
		t.Fatal("empty product fields must be omitted")
	}
}

func TestSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "http://cb", 5*time.Second, zerolog.Nop())
	outcome := c.Send(context.Background(), testOrder())
	if outcome.Result != Rejected || outcome.StatusCode != http.StatusBadGateway {
		t.Fatalf("outcome = %+v, want rejected 502", outcome)
	}
	if outcome.Reason() == "" {
		t.Fatal("rejected outcome must render a reason")
	}
}

func TestSendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	c := NewClient(srv.URL, "http://cb", time.Second, zerolog.Nop())
	outcome := c.Send(context.Background(), testOrder())
	if outcome.Result != TransportError {
		t.Fatalf("result = %s, want transport_error", outcome.Result)
	}
	if outcome.Err == nil {
		t.Fatal("transport error must carry the cause")
	}
}

func TestSendNotConfigured(t *testing.T) {
	c := NewClient("", "http://cb", time.Second, zerolog.Nop())
	outcome := c.Send(context.Background(), testOrder())
	if outcome.Result != NotConfigured {
		t.Fatalf("result = %s, want not_configured", outcome.Result)
	}
}
