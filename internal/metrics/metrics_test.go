package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsCountObservations(t *testing.T) {
	t.Parallel()

	collectors := New()
	collectors.ObserveResolution(KindReply, TierCache)
	collectors.ObserveResolution(KindReply, TierCache)
	collectors.ObserveResolution(KindMention, TierUnresolved)
	collectors.ObserveRemoteCall("get_msg", OutcomeError, 20*time.Millisecond)
	collectors.ObserveSave(OutcomeOK, 3, 1, 2)
	collectors.ObserveSync(OutcomeDropped)
	collectors.ObserveFormatPanic()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{name: "reply cache", got: testutil.ToFloat64(collectors.resolutions.WithLabelValues(KindReply, TierCache)), want: 2},
		{name: "mention unresolved", got: testutil.ToFloat64(collectors.resolutions.WithLabelValues(KindMention, TierUnresolved)), want: 1},
		{name: "remote error", got: testutil.ToFloat64(collectors.remoteCalls.WithLabelValues("get_msg", OutcomeError)), want: 1},
		{name: "saved added", got: testutil.ToFloat64(collectors.savedMessages.WithLabelValues("added")), want: 3},
		{name: "saved dropped", got: testutil.ToFloat64(collectors.savedMessages.WithLabelValues("dropped")), want: 2},
		{name: "sync dropped", got: testutil.ToFloat64(collectors.syncs.WithLabelValues(OutcomeDropped)), want: 1},
		{name: "panics", got: testutil.ToFloat64(collectors.formatPanics), want: 1},
	}
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if testCase.got != testCase.want {
				t.Fatalf("got %v, want %v", testCase.got, testCase.want)
			}
		})
	}
}

func TestNilCollectorsAreNoop(t *testing.T) {
	t.Parallel()

	var collectors *Collectors
	collectors.ObserveResolution(KindReply, TierCache)
	collectors.ObserveRemoteCall("get_msg", OutcomeOK, time.Millisecond)
	collectors.ObserveSave(OutcomeOK, 1, 0, 0)
	collectors.ObserveSync(OutcomeOK)
	collectors.ObserveFormatPanic()
	if collectors.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	collectors := New()
	collectors.ObserveSync(OutcomeOK)

	recorder := httptest.NewRecorder()
	collectors.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body := recorder.Body.String()
	if !strings.Contains(body, `grouplog_syncs_total{outcome="ok"} 1`) {
		t.Fatalf("metrics body missing sync counter:\n%s", body)
	}
}
