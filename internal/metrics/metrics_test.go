package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	route := "GET /api/test/{id}"
	h := InstrumentHandler(route, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, route, "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/test/42", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, route, "418"))
	if after-before != 1 {
		t.Fatalf("expected one recorded request, got %v", after-before)
	}
}

func TestMessageSentDeliveryLabel(t *testing.T) {
	live := testutil.ToFloat64(messagesSent.WithLabelValues("live"))
	stored := testutil.ToFloat64(messagesSent.WithLabelValues("stored"))

	MessageSent(2)
	MessageSent(0)

	if got := testutil.ToFloat64(messagesSent.WithLabelValues("live")) - live; got != 1 {
		t.Fatalf("live delta = %v", got)
	}
	if got := testutil.ToFloat64(messagesSent.WithLabelValues("stored")) - stored; got != 1 {
		t.Fatalf("stored delta = %v", got)
	}
}

func TestConnectionGauge(t *testing.T) {
	base := testutil.ToFloat64(pushConnections)
	ConnectionOpened()
	ConnectionOpened()
	ConnectionClosed()
	if got := testutil.ToFloat64(pushConnections) - base; got != 1 {
		t.Fatalf("gauge delta = %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ClientEvent("send_message", "ok")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "socialchat_push_client_events_total") {
		t.Fatalf("client event counter missing from exposition")
	}
}
