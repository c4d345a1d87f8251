package dispatch_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"leadline/internal/dispatch"
)

func TestDispatchRegisteredHandler(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.Register("echo", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"got": payload["x"]}, nil
	})
	result, err := reg.Dispatch(context.Background(), "echo", map[string]any{"x": "y"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result["got"] != "y" {
		t.Fatalf("want y, got %v", result["got"])
	}
}

func TestDispatchUnknownTypeWarns(t *testing.T) {
	reg := dispatch.NewRegistry()
	result, err := reg.Dispatch(context.Background(), "nope", nil)
	if err != nil {
		t.Fatalf("unknown type must not be an error: %v", err)
	}
	warning, ok := result["warning"].(string)
	if !ok || !strings.Contains(warning, "nope") {
		t.Fatalf("want warning naming the type, got %v", result)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.Register("boom", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("broken")
	})
	if _, err := reg.Dispatch(context.Background(), "boom", nil); err == nil {
		t.Fatalf("want handler error")
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.Register("panic", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		panic("oops")
	})
	_, err := reg.Dispatch(context.Background(), "panic", nil)
	if err == nil || !strings.Contains(err.Error(), "oops") {
		t.Fatalf("want recovered panic as error, got %v", err)
	}
}

func TestTypesSorted(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.Register("b", nil)
	reg.Register("a", nil)
	reg.Register("c", nil)
	types := reg.Types()
	if len(types) != 3 || types[0] != "a" || types[2] != "c" {
		t.Fatalf("want sorted types, got %v", types)
	}
}
