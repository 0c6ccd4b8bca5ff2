package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveCommand("cue_media", "ok")
	m.ObserveCommand("cue_media", "ok")
	m.ObserveCommand("define_window", "rejected")
	m.ObserveBackupWrite("media", "error")
	m.IncNotificationsDropped()
	m.SetRecoveredChannels(3)

	body := scrape(t, m, func() { m.SetDefinedChannels(5) })

	for _, want := range []string{
		`apollo_commands_total{command="cue_media",result="ok"} 2`,
		`apollo_commands_total{command="define_window",result="rejected"} 1`,
		`apollo_backup_writes_total{key="media",result="error"} 1`,
		`apollo_notifications_dropped_total 1`,
		`apollo_recovered_channels 3`,
		`apollo_defined_channels 5`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Post("/seek", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadRequest) })
	r.Post("/allStop", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	for _, path := range []string{"/seek", "/allStop", "/allStop", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	}

	body := scrape(t, m, nil)
	for _, want := range []string{
		`apollo_http_requests_total{route="/allStop"} 2`,
		`apollo_http_requests_total{route="/seek"} 1`,
		`apollo_http_errors_total{route="/seek"} 1`,
		`apollo_http_requests_total{route="unmatched"} 1`,
		`apollo_http_errors_total{route="unmatched"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in\n%s", want, body)
		}
	}
}
