package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "fsubbot/pkg/logx"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Delivery("sent")
	m.GateCheck("open")
	m.BroadcastRunning(true)
	m.Command("start", "ok", 0.1)
	if m.Registry() != nil {
		t.Fatalf("nil metrics must have no registry")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Delivery("sent")
	m.Delivery("sent")
	m.GatedChats(3)

	s := NewServer(ServerConfig{}, m, logx.Nop())
	ts := httptest.NewServer(s.Handler(ServerConfig{Path: "metrics"}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	body := string(b)
	if !strings.Contains(body, `fsubbot_broadcast_deliveries_total{outcome="sent"} 2`) {
		t.Fatalf("missing delivery counter:\n%s", body)
	}
	if !strings.Contains(body, "fsubbot_gate_chats 3") {
		t.Fatalf("missing gated chats gauge")
	}
}

func TestHandlerAuth(t *testing.T) {
	s := NewServer(ServerConfig{}, New(), logx.Nop())
	ts := httptest.NewServer(s.Handler(ServerConfig{Token: "sekret", Pprof: true}))
	defer ts.Close()

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/metrics", "", http.StatusUnauthorized},
		{"query token", "/metrics?token=sekret", "", http.StatusOK},
		{"bearer", "/metrics", "Bearer sekret", http.StatusOK},
		{"wrong bearer", "/metrics", "Bearer nope", http.StatusUnauthorized},
		{"healthz is open", "/healthz", "", http.StatusOK},
		{"pprof guarded", "/debug/pprof/", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:9090":     true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", in, got)
		}
	}
}
