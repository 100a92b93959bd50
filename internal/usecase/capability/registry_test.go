package capability

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"voxspawn/internal/domain"
)

func echoHandler(_ context.Context, args json.RawMessage) (string, error) {
	return string(args), nil
}

func TestBindAndInvoke(t *testing.T) {
	r := NewRegistry()
	r.Register("lookup_order", echoHandler)

	b, err := r.Bind(domain.Capability{
		Name:        "lookup_order",
		Description: "Look up an order",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"order_id":{"type":"string"}},"required":["order_id"]}`),
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	out, err := b.Invoke(context.Background(), json.RawMessage(`{"order_id":"A-123"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "A-123") {
		t.Errorf("out = %q", out)
	}
}

func TestBindUnknownCapability(t *testing.T) {
	r := NewRegistry()
	_, err := r.Bind(domain.Capability{Name: "teleport"})
	if !errors.Is(err, domain.ErrBadDescriptor) {
		t.Errorf("err = %v, want ErrBadDescriptor", err)
	}
}

func TestBindBadSchema(t *testing.T) {
	r := NewRegistry()
	r.Register("lookup_order", echoHandler)

	_, err := r.Bind(domain.Capability{
		Name:       "lookup_order",
		Parameters: json.RawMessage(`{"type":`),
	})
	if !errors.Is(err, domain.ErrBadDescriptor) {
		t.Errorf("err = %v, want ErrBadDescriptor", err)
	}
}

func TestBindWithoutSchemaSkipsValidation(t *testing.T) {
	r := NewRegistry()
	r.Register("ping", echoHandler)

	b, err := r.Bind(domain.Capability{Name: "ping"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := b.Invoke(context.Background(), json.RawMessage(`"anything"`)); err != nil {
		t.Errorf("Invoke: %v", err)
	}
}

func TestInvokeRejectsBadArgs(t *testing.T) {
	r := NewRegistry()
	r.Register("lookup_order", echoHandler)

	b, err := r.Bind(domain.Capability{
		Name:       "lookup_order",
		Parameters: json.RawMessage(`{"type":"object","required":["order_id"]}`),
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if _, err := b.Invoke(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Error("expected schema rejection for missing required field")
	}
	if _, err := b.Invoke(context.Background(), json.RawMessage(`{bad json`)); err == nil {
		t.Error("expected rejection for malformed JSON")
	}
}
