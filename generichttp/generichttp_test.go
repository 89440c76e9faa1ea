package generichttp

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
)

type teapot struct{ error }

func (teapot) StatusCode() int { return http.StatusTeapot }

func TestSubMuxSanitize(t *testing.T) {
	for in, want := range map[string]string{
		"omc/scope":    "/omc/scope",
		"/omc/scope/*": "/omc/scope",
		"scope/":       "/scope",
	} {
		if got := SubMuxSanitize(in); got != want {
			t.Errorf("SubMuxSanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRouteTableBindAndEndpoints(t *testing.T) {
	var n int
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/len"}:  GetInt(func() (int, error) { return n, nil }),
		{Method: http.MethodPost, Path: "/len"}: SetInt(func(i int) error { n = i; return nil }),
		{Method: http.MethodPost, Path: "/fail"}: Do(func() error {
			return teapot{errors.New("short and stout")}
		}),
	}
	want := []string{"POST /fail", "GET /len", "POST /len"}
	if diff := cmp.Diff(want, rt.Endpoints()); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}

	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/len", strings.NewReader(`{"int":42}`)))
	if w.Code != http.StatusOK || n != 42 {
		t.Fatalf("set failed: %d, n=%d", w.Code, n)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/len", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `{"int":42}` {
		t.Errorf("unexpected get body %s", got)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/len", strings.NewReader(`not json`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad body got %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/fail", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("expected the error's status code, got %d", w.Code)
	}
}

func TestErrorDefaultsTo500(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, errors.New("boom"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 got %d", w.Code)
	}
}
