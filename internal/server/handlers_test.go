package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pairbrowse/relay/internal/relay"
)

func testMux(t *testing.T) *http.ServeMux {
	t.Helper()
	hub := NewHub(discardLogger(), NewMetrics())
	registry := relay.NewRegistry(hub, discardLogger())
	return SetupRoutes(hub, registry, NewConfig(), NewMetrics())
}

// TestHealthHandler verifies that the handler responds correctly to different
// HTTP methods and returns the expected status code and response body.
func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "GET request to health endpoint",
			method:         "GET",
			expectedStatus: http.StatusOK,
			expectedBody:   "PairBrowse relay is running!",
		},
		{
			name:           "POST request to health endpoint",
			method:         "POST",
			expectedStatus: http.StatusOK,
			expectedBody:   "PairBrowse relay is running!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, "/", http.NoBody)
			if err != nil {
				t.Fatal(err)
			}

			rr := httptest.NewRecorder()

			HealthHandler(rr, req)

			if status := rr.Code; status != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v",
					status, tt.expectedStatus)
			}

			if rr.Body.String() != tt.expectedBody {
				t.Errorf("handler returned unexpected body: got %v want %v",
					rr.Body.String(), tt.expectedBody)
			}
		})
	}
}

// TestWebSocketHandlerRejectsNonGET verifies that the WebSocket endpoint only
// accepts GET requests.
func TestWebSocketHandlerRejectsNonGET(t *testing.T) {
	mux := testMux(t)

	methods := []string{"POST", "PUT", "DELETE", "PATCH"}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req, err := http.NewRequest(method, "/ws", http.NoBody)
			if err != nil {
				t.Fatal(err)
			}

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if status := rr.Code; status != http.StatusMethodNotAllowed {
				t.Errorf("handler returned wrong status code for %s: got %v want %v",
					method, status, http.StatusMethodNotAllowed)
			}
		})
	}
}

// TestSetupRoutes verifies that SetupRoutes returns a properly configured
// ServeMux with the expected routes registered.
func TestSetupRoutes(t *testing.T) {
	mux := testMux(t)

	if mux == nil {
		t.Fatal("SetupRoutes returned nil mux")
	}

	req, err := http.NewRequest("GET", "/", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v",
			status, http.StatusOK)
	}

	expected := "PairBrowse relay is running!"
	if rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v",
			rr.Body.String(), expected)
	}
}

// TestMetricsEndpoint verifies that the Prometheus metrics endpoint serves the
// relay's registered collectors.
func TestMetricsEndpoint(t *testing.T) {
	hub := NewHub(discardLogger(), NewMetrics())
	registry := relay.NewRegistry(hub, discardLogger())
	metrics := NewMetrics()
	metrics.RoomsCreated.Inc()
	mux := SetupRoutes(hub, registry, NewConfig(), metrics)

	req, err := http.NewRequest("GET", "/metrics", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Fatalf("metrics endpoint returned status %v", status)
	}
	if !strings.Contains(rr.Body.String(), "relay_rooms_created_total") {
		t.Error("metrics output missing relay_rooms_created_total")
	}
}

// TestCreateServer verifies that CreateServer returns an HTTP server with the
// correct address, handler, and timeout settings.
func TestCreateServer(t *testing.T) {
	addr := ":3000"
	mux := testMux(t)

	srv := CreateServer(addr, mux)

	if srv.Addr != addr {
		t.Errorf("Expected server addr %s, got %s", addr, srv.Addr)
	}

	if srv.Handler == nil {
		t.Error("Server handler not set")
	}

	expectedReadTimeout := 15 * time.Second
	expectedWriteTimeout := 15 * time.Second
	expectedIdleTimeout := 60 * time.Second

	if srv.ReadTimeout != expectedReadTimeout {
		t.Errorf("Expected ReadTimeout %v, got %v", expectedReadTimeout, srv.ReadTimeout)
	}

	if srv.WriteTimeout != expectedWriteTimeout {
		t.Errorf("Expected WriteTimeout %v, got %v", expectedWriteTimeout, srv.WriteTimeout)
	}

	if srv.IdleTimeout != expectedIdleTimeout {
		t.Errorf("Expected IdleTimeout %v, got %v", expectedIdleTimeout, srv.IdleTimeout)
	}
}
