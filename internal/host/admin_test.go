package host

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keyhaven/keybridge/internal/testutil/testlog"
)

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	admin := NewAdmin("companion-test", "", "0.1.0", func() map[string]any {
		return map[string]any{"pingsServed": 3}
	})
	srv := httptest.NewServer(admin.Handler())
	defer srv.Close()

	get := func(path string) (int, []byte) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, body
	}

	code, body := get("/health")
	if code != http.StatusOK {
		t.Fatalf("/health status %d", code)
	}
	var health struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("decode /health: %v", err)
	}
	if health.Status != "ok" || health.Service != "companion-test" {
		t.Fatalf("unexpected /health body %s", body)
	}

	if code, _ := get("/ready"); code != http.StatusOK {
		t.Fatalf("/ready status %d", code)
	}

	code, body = get("/status")
	if code != http.StatusOK || !strings.Contains(string(body), "pingsServed") {
		t.Fatalf("/status %d %s", code, body)
	}

	code, body = get("/metrics")
	if code != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("/metrics %d", code)
	}
}
