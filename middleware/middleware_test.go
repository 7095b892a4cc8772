package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	fileGate "github.com/MrEthical07/fileGate"
)

func TestClientIPTrustsOnlyProxies(t *testing.T) {
	cases := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.7:5000", "", "", "203.0.113.7"},
		{"spoofed header from public peer", "203.0.113.7:5000", "1.2.3.4", "", "203.0.113.7"},
		{"proxy first hop", "10.0.0.2:80", "198.51.100.9, 10.0.0.1", "", "198.51.100.9"},
		{"proxy real ip", "127.0.0.1:80", "", "198.51.100.10", "198.51.100.10"},
		{"proxy garbage header", "127.0.0.1:80", "not-an-ip", "", "127.0.0.1"},
		{"no port", "192.0.2.1", "", "", "192.0.2.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				r.Header.Set("X-Real-IP", tc.xri)
			}
			if got := ClientIP(r, DefaultTrustedProxies); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClientMetadataPopulatesContext(t *testing.T) {
	var ip, ua string
	h := ClientMetadata(DefaultTrustedProxies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = fileGate.ClientIPFromContext(r.Context())
		ua = fileGate.UserAgentFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/login", nil)
	r.RemoteAddr = "203.0.113.7:5000"
	r.Header.Set("User-Agent", "curl/8")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if ip != "203.0.113.7" || ua != "curl/8" {
		t.Fatalf("unexpected metadata: %q %q", ip, ua)
	}
}

func staticResolver(p *Principal) SessionResolver {
	return ResolverFunc(func(*http.Request) (*Principal, error) {
		if p == nil {
			return nil, ErrNoSession
		}
		return p, nil
	})
}

func TestGuardRoles(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, found := PrincipalFromContext(r.Context())
		if !found {
			t.Error("expected principal in context")
		}
		w.Header().Set("X-Account", p.Handle)
		w.WriteHeader(http.StatusNoContent)
	})

	admin := &Principal{AccountID: 1, Handle: "root", Role: fileGate.RoleAdmin}
	customer := &Principal{AccountID: 2, Handle: "alice", Role: fileGate.RoleCustomer}

	cases := []struct {
		name  string
		guard func(http.Handler) http.Handler
		want  int
	}{
		{"anonymous", Guard(staticResolver(nil)), http.StatusUnauthorized},
		{"nil resolver", Guard(nil), http.StatusUnauthorized},
		{"any session", Guard(staticResolver(customer)), http.StatusNoContent},
		{"admin route as customer", RequireAdmin(staticResolver(customer)), http.StatusForbidden},
		{"admin route as admin", RequireAdmin(staticResolver(admin)), http.StatusNoContent},
		{"customer route as customer", RequireCustomer(staticResolver(customer)), http.StatusNoContent},
		{"role route", RequireRole(staticResolver(admin), fileGate.RoleCustomer), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.guard(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestResolverErrorIsUnauthorized(t *testing.T) {
	g := Guard(ResolverFunc(func(*http.Request) (*Principal, error) {
		return nil, errors.New("redis down")
	}))
	rec := httptest.NewRecorder()
	g(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
