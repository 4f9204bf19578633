package llm

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func testRegistry() *Registry {
	return NewRegistry(
		&stubProvider{name: "alpha", prefix: "a", response: &Response{Content: "from alpha", Provider: "alpha"}},
		&stubProvider{name: "beta", prefix: "b", response: &Response{Content: "from beta", Provider: "beta"}},
		&stubProvider{name: "gamma", prefix: "g", err: errors.New("boom")},
	)
}

func TestRegistry_Get(t *testing.T) {
	r := testRegistry()

	p, err := r.Get("alpha")
	if err != nil {
		t.Fatalf("Get(alpha): %v", err)
	}
	if p.Name() != "alpha" {
		t.Errorf("Name() = %q, want alpha", p.Name())
	}

	if _, err := r.Get("nope"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Get(nope) error = %v, want ErrUnknownProvider", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	got := testRegistry().Names()
	want := []string{"alpha", "beta", "gamma"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRegistry_Available(t *testing.T) {
	r := testRegistry()

	keys := map[string]string{
		"alpha": "a-valid-key",
		"beta":  "x-wrong-prefix", // fails beta's format check
		"gamma": "g-valid-key",
	}

	got := r.Available(keys)
	want := []string{"alpha", "gamma"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}

	if got := r.Available(nil); len(got) != 0 {
		t.Errorf("Available(nil) = %v, want empty", got)
	}
}

func TestRegistry_GenerateAll_DropsFailures(t *testing.T) {
	r := testRegistry()

	keys := map[string]string{
		"alpha": "a-key",
		"beta":  "b-key",
		"gamma": "g-key", // available, but Generate fails
	}

	responses := r.GenerateAll(context.Background(), Request{Prompt: "hi"}, keys)
	if len(responses) != 2 {
		t.Fatalf("responses = %d, want 2 (gamma's failure dropped)", len(responses))
	}

	seen := map[string]bool{}
	for _, resp := range responses {
		seen[resp.Provider] = true
	}
	if !seen["alpha"] || !seen["beta"] {
		t.Errorf("providers seen = %v, want alpha and beta", seen)
	}
}

func TestRegistry_GenerateAll_NoKeys(t *testing.T) {
	responses := testRegistry().GenerateAll(context.Background(), Request{}, nil)
	if len(responses) != 0 {
		t.Errorf("responses = %d, want 0", len(responses))
	}
}
