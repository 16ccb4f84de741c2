package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAssociation(t *testing.T) {
	before := testutil.ToFloat64(AssociationsTotal.WithLabelValues("accepted"))

	RecordAssociation("accepted")
	RecordAssociation("accepted")

	assert.Equal(t, before+2, testutil.ToFloat64(AssociationsTotal.WithLabelValues("accepted")))
}

func TestTrackActiveAssociation(t *testing.T) {
	before := testutil.ToFloat64(AssociationsActive)

	TrackActiveAssociation(true)
	assert.Equal(t, before+1, testutil.ToFloat64(AssociationsActive))

	TrackActiveAssociation(false)
	assert.Equal(t, before, testutil.ToFloat64(AssociationsActive))
}

func TestRecordDIMSE(t *testing.T) {
	counter := DIMSERequestsTotal.WithLabelValues("C-STORE-RQ", "0xC002")
	before := testutil.ToFloat64(counter)

	RecordDIMSE("C-STORE-RQ", 0xC002, 3*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecordInstance(t *testing.T) {
	tests := []struct {
		name      string
		outcome   string
		stored    bool
		size      int
		wantBytes float64
	}{
		{"stored", "success", true, 1024, 1024},
		{"duplicate counts as stored", "duplicate", true, 10, 10},
		{"failure adds no bytes", "write_failure", false, 2048, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			beforeCount := testutil.ToFloat64(InstancesTotal.WithLabelValues(tt.outcome))
			beforeBytes := testutil.ToFloat64(InstanceBytesTotal)

			RecordInstance(tt.outcome, tt.stored, tt.size, time.Millisecond)

			assert.Equal(t, beforeCount+1, testutil.ToFloat64(InstancesTotal.WithLabelValues(tt.outcome)))
			assert.Equal(t, beforeBytes+tt.wantBytes, testutil.ToFloat64(InstanceBytesTotal))
		})
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	counter := HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "503")
	before := testutil.ToFloat64(counter)

	RecordHTTPRequest("GET", "/healthz", 503, time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestFormatStatus(t *testing.T) {
	assert.Equal(t, "0x0000", FormatStatus(0))
	assert.Equal(t, "0xC001", FormatStatus(0xC001))
	assert.Equal(t, "0x0211", FormatStatus(0x0211))
}
