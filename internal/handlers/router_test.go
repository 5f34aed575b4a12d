package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRouterServesHealthEndpoints(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, rr.Code, http.StatusOK)
		}
	}
}

func TestRouterMountsRegistrarsUnderAPIPrefix(t *testing.T) {
	router := NewRouter(
		WithCheckoutRoutes(func(r chi.Router) {
			r.Post("/checkout", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusCreated)
			})
		}),
		WithOrderRoutes(func(r chi.Router) {
			r.Post("/orders/{orderID}/complete-payment", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		}),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil))
	if rr.Code != http.StatusCreated {
		t.Errorf("POST /api/v1/checkout status = %d, want %d", rr.Code, http.StatusCreated)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders/42/complete-payment", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("POST complete-payment status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRouterUnknownRouteReturnsJSON(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Errorf("error = %v, want route_not_found", body["error"])
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router := NewRouter(WithCheckoutRoutes(func(r chi.Router) {
		r.Post("/checkout", func(w http.ResponseWriter, _ *http.Request) {})
	}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/checkout", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}
