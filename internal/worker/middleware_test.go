package worker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	tests := []struct {
		header   string
		expected string
	}{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"Content-Security-Policy", "default-src 'none'"},
	}

	for _, tt := range tests {
		if got := rr.Header().Get(tt.header); got != tt.expected {
			t.Errorf("SecurityHeaders() %s = %q, want %q", tt.header, got, tt.expected)
		}
	}
}

func TestSecurityHeaders_CORS(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		origin         string
		expectedOrigin string
		expectCORS     bool
	}{
		{
			name:           "127.0.0.1:5173 origin allowed",
			origin:         "http://127.0.0.1:5173",
			expectCORS:     true,
			expectedOrigin: "http://127.0.0.1:5173",
		},
		{
			name:           "localhost without port allowed",
			origin:         "http://localhost",
			expectCORS:     true,
			expectedOrigin: "http://localhost",
		},
		{
			name:       "external origin blocked",
			origin:     "http://evil.com",
			expectCORS: false,
		},
		{
			name:       "evil-localhost.com bypass attempt blocked",
			origin:     "http://evil-localhost.com",
			expectCORS: false,
		},
		{
			name:       "localhost subdomain bypass attempt blocked",
			origin:     "http://localhost.evil.com",
			expectCORS: false,
		},
		{
			name:       "no origin header",
			origin:     "",
			expectCORS: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			cors := rr.Header().Get("Access-Control-Allow-Origin")
			if tt.expectCORS {
				if cors != tt.expectedOrigin {
					t.Errorf("Expected CORS origin %q, got %q", tt.expectedOrigin, cors)
				}
			} else if cors != "" {
				t.Errorf("Expected no CORS header, got %q", cors)
			}
		})
	}
}

func TestSecurityHeaders_Preflight(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/test", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204 for OPTIONS, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), UserHeader) {
		t.Errorf("Access-Control-Allow-Headers should include %s", UserHeader)
	}
}

func TestMaxBodySize(t *testing.T) {
	maxSize := int64(100)
	handler := MaxBodySize(maxSize)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		contentLength  int64
		expectedStatus int
	}{
		{name: "within limit", contentLength: 50, expectedStatus: http.StatusOK},
		{name: "at limit", contentLength: 100, expectedStatus: http.StatusOK},
		{name: "exceeds limit", contentLength: 150, expectedStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", nil)
			req.ContentLength = tt.contentLength
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("MaxBodySize() status = %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("Request ID should be set in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates new request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if len(rr.Header().Get("X-Request-ID")) != 36 {
			t.Errorf("X-Request-ID should be a UUID, got %q", rr.Header().Get("X-Request-ID"))
		}
	})

	t.Run("uses existing request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", "test-id-12345")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") != "test-id-12345" {
			t.Errorf("Expected X-Request-ID to be test-id-12345, got %s", rr.Header().Get("X-Request-ID"))
		}
	})

	t.Run("replaces oversized request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", strings.Repeat("x", 65))
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if len(rr.Header().Get("X-Request-ID")) != 36 {
			t.Errorf("oversized X-Request-ID should be replaced, got %q", rr.Header().Get("X-Request-ID"))
		}
	})
}

func TestRequireJSONContentType(t *testing.T) {
	handler := RequireJSONContentType(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		method         string
		contentType    string
		expectedStatus int
	}{
		{name: "GET request without content-type", method: "GET", expectedStatus: http.StatusOK},
		{name: "POST with application/json", method: "POST", contentType: "application/json", expectedStatus: http.StatusOK},
		{name: "POST with charset", method: "POST", contentType: "application/json; charset=utf-8", expectedStatus: http.StatusOK},
		{name: "POST without content-type (empty body)", method: "POST", expectedStatus: http.StatusOK},
		{name: "POST with text/plain rejected", method: "POST", contentType: "text/plain", expectedStatus: http.StatusUnsupportedMediaType},
		{name: "PATCH with form-urlencoded rejected", method: "PATCH", contentType: "application/x-www-form-urlencoded", expectedStatus: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
		})
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{name: "uuid", userID: "2f1c7c1e-4d4b-4a8e-9a51-0b7d3b2c9e11", wantErr: false},
		{name: "email style", userID: "ana@example.com", wantErr: false},
		{name: "namespaced", userID: "tenant:42", wantErr: false},
		{name: "empty", userID: "", wantErr: true},
		{name: "space", userID: "ana smith", wantErr: true},
		{name: "path traversal", userID: "../etc", wantErr: true},
		{name: "too long", userID: strings.Repeat("a", 129), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.userID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUserID(%q) error = %v, wantErr %v", tt.userID, err, tt.wantErr)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	var seen string
	handler := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rr.Code)
		}
	})

	t.Run("user stored in context", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(UserHeader, " u-1 ")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rr.Code)
		}
		if seen != "u-1" {
			t.Errorf("GetUserID() = %q, want %q", seen, "u-1")
		}
	})
}

func TestPerUserRateLimitMiddleware(t *testing.T) {
	limiter := NewPerClientRateLimiter(0.001, 2)
	handler := RequireUser(PerUserRateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	do := func(user string) int {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(UserHeader, user)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("alice"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := do("alice"); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 once burst is spent, got %d", code)
	}
	if code := do("bob"); code != http.StatusOK {
		t.Errorf("Other users keep their own bucket, got %d", code)
	}
}
