package rules

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func request(method, target, remote string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remote + ":1234"
	return req
}

func TestCompile_Matches(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		req  *http.Request
		want bool
	}{
		{"always", Spec{Always: true}, request(http.MethodGet, "/", "1.1.1.1"), true},
		{"method hit", Spec{Methods: []string{"post"}}, request(http.MethodPost, "/", "1.1.1.1"), true},
		{"method miss", Spec{Methods: []string{"POST"}}, request(http.MethodGet, "/", "1.1.1.1"), false},
		{"path exact", Spec{PathExact: "/login"}, request(http.MethodGet, "/login", "1.1.1.1"), true},
		{"path prefix", Spec{PathPrefix: "/admin"}, request(http.MethodGet, "/admin/users", "1.1.1.1"), true},
		{"path regex", Spec{PathRegex: `\.php$`}, request(http.MethodGet, "/wp-login.php", "1.1.1.1"), true},
		{"cidr hit", Spec{IPIn: []string{"10.0.0.0/8"}}, request(http.MethodGet, "/", "10.2.3.4"), true},
		{"bare ip miss", Spec{IPIn: []string{"10.0.0.1"}}, request(http.MethodGet, "/", "10.0.0.2"), false},
		{"query has", Spec{QueryHas: []string{"debug"}}, request(http.MethodGet, "/?debug=", "1.1.1.1"), true},
		{"and", Spec{Methods: []string{"GET"}, PathPrefix: "/api"}, request(http.MethodGet, "/web", "1.1.1.1"), false},
		{"not", Spec{Always: true, Not: &Spec{PathPrefix: "/static"}}, request(http.MethodGet, "/static/a.css", "1.1.1.1"), false},
		{"not miss", Spec{Not: &Spec{PathPrefix: "/static"}}, request(http.MethodGet, "/index", "1.1.1.1"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, errCompile := Compile(tc.spec, nil)
			if errCompile != nil {
				t.Fatalf("compile: %v", errCompile)
			}
			if got := rule(tc.req); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCompile_Headers(t *testing.T) {
	rule, errCompile := Compile(Spec{
		HeaderEquals:   map[string]string{"x-api-version": "2"},
		UserAgentRegex: `(?i)sqlmap|nikto`,
	}, nil)
	if errCompile != nil {
		t.Fatalf("compile: %v", errCompile)
	}
	req := request(http.MethodGet, "/", "1.1.1.1")
	req.Header.Set("X-Api-Version", "2")
	req.Header.Set("User-Agent", "sqlmap/1.7")
	if !rule(req) {
		t.Fatalf("expected match")
	}
	req.Header.Set("User-Agent", "curl/8.0")
	if rule(req) {
		t.Fatalf("expected no match for benign agent")
	}
}

func TestCompile_Errors(t *testing.T) {
	if _, errCompile := Compile(Spec{}, nil); !errors.Is(errCompile, ErrEmptySpec) {
		t.Fatalf("expected ErrEmptySpec, got %v", errCompile)
	}
	if _, errCompile := Compile(Spec{PathRegex: "("}, nil); errCompile == nil {
		t.Fatalf("expected regex error")
	}
	if _, errCompile := Compile(Spec{IPIn: []string{"not-an-ip"}}, nil); errCompile == nil {
		t.Fatalf("expected ip error")
	}
	if _, errCompile := Compile(Spec{Always: true, Not: &Spec{}}, nil); errCompile == nil {
		t.Fatalf("expected nested empty spec error")
	}
}

func TestCompile_UsesClientKey(t *testing.T) {
	rule, errCompile := Compile(Spec{IPIn: []string{"203.0.113.0/24"}}, func(*http.Request) string {
		return "203.0.113.7"
	})
	if errCompile != nil {
		t.Fatalf("compile: %v", errCompile)
	}
	if !rule(request(http.MethodGet, "/", "10.0.0.1")) {
		t.Fatalf("expected client key to drive ip-in")
	}
}
