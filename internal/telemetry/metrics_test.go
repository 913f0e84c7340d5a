package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMessageCounters(t *testing.T) {
	sentBase := testutil.ToFloat64(messagesSent.WithLabelValues("text"))
	MessageSent("text")
	MessageSent("text")
	if got := testutil.ToFloat64(messagesSent.WithLabelValues("text")); got != sentBase+2 {
		t.Errorf("messages_sent{kind=text} = %v, want %v", got, sentBase+2)
	}

	rejBase := testutil.ToFloat64(messagesRejected.WithLabelValues("keyword"))
	MessageRejected("keyword")
	if got := testutil.ToFloat64(messagesRejected.WithLabelValues("keyword")); got != rejBase+1 {
		t.Errorf("messages_rejected{reason=keyword} = %v, want %v", got, rejBase+1)
	}
}

func TestConnectionGauges(t *testing.T) {
	base := testutil.ToFloat64(wsConnections)
	WSOpened()
	WSOpened()
	WSClosed()
	if got := testutil.ToFloat64(wsConnections); got != base+1 {
		t.Errorf("ws_connections = %v, want %v", got, base+1)
	}

	SetOnlineMembers(7)
	if got := testutil.ToFloat64(onlineMembers); got != 7 {
		t.Errorf("online_members = %v, want 7", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	OTPRequested()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"huddle_otp_requests_total", "huddle_ws_connections", "huddle_online_members"} {
		if !strings.Contains(body, name) {
			t.Errorf("scrape output missing %s", name)
		}
	}
}
