package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestRegistryExposesCountersOverHTTP(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := New(logger)

	m.DepositsConfirmed.Inc()
	m.SwapsFormed.Add(2)
	m.OpenStateChains.Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "stateentity_deposits_confirmed_total 1") {
		t.Fatalf("expected deposits counter in output, got:\n%s", body)
	}
	if !strings.Contains(body, "stateentity_swaps_formed_total 2") {
		t.Fatalf("expected swaps counter at 2, got:\n%s", body)
	}
	if !strings.Contains(body, "stateentity_open_statechains 3") {
		t.Fatalf("expected open statechains gauge at 3, got:\n%s", body)
	}
}

func TestLogErrorIncrementsCounter(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := New(logger)

	m.LogError("test event", errTest{})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "stateentity_errors_total 1") {
		t.Fatalf("expected errors counter at 1, got:\n%s", rec.Body.String())
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
