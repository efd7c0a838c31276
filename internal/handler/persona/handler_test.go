package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tavern-chatter/backend/internal/model/persona"
)

func setupRouter() *chi.Mux {
	r := chi.NewRouter()
	New(persona.MustRegistry(persona.Seed())).RegisterRoutes(r)
	return r
}

func TestListPersonasInCatalogueOrder(t *testing.T) {
	resp := httptest.NewRecorder()
	setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/personas", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var got []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	seed := persona.Seed()
	if len(got) != len(seed) {
		t.Fatalf("expected %d personas, got %d", len(seed), len(got))
	}
	if got[0]["id"] != seed[0].ID {
		t.Fatalf("expected %s first, got %v", seed[0].ID, got[0]["id"])
	}
	if _, leaked := got[0]["secrets"]; leaked {
		t.Fatal("secrets must not be exposed")
	}
}

func TestGetPersona(t *testing.T) {
	resp := httptest.NewRecorder()
	setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/personas/greta-ironforge", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/personas/nobody", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
