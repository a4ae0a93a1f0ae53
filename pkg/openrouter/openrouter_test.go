package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newModelsServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Title"); got != "analyst" {
			t.Errorf("X-Title = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"openai/gpt-4o-mini","object":"model","created":0,"owned_by":"openai"}]}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("NewClient() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestCheckModel(t *testing.T) {
	t.Parallel()

	server := newModelsServer(t)
	client, err := NewClient(Config{BaseURL: server.URL + "/", APIKey: "key", SiteName: "analyst"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if err := CheckModel(context.Background(), client, "openai/gpt-4o-mini"); err != nil {
		t.Fatalf("CheckModel() error = %v", err)
	}
	if err := CheckModel(context.Background(), client, "missing/model"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}
