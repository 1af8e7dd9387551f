package metrics

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPollCycle(t *testing.T) {
	okBefore := testutil.ToFloat64(PollCycles.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(PollCycles.WithLabelValues("error"))

	RecordPollCycle(2*time.Second, nil)
	RecordPollCycle(time.Second, errors.New("store down"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(PollCycles.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(PollCycles.WithLabelValues("error")))
}

func TestRecordPortalRequest(t *testing.T) {
	before := testutil.ToFloat64(PortalRequests.WithLabelValues("login", "error"))

	RecordPortalRequest("login", 10*time.Millisecond, errors.New("timeout"))

	assert.Equal(t, before+1, testutil.ToFloat64(PortalRequests.WithLabelValues("login", "error")))
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues(http.MethodGet, "/healthz", "200"))

	RecordHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequests.WithLabelValues(http.MethodGet, "/healthz", "200")))
}
