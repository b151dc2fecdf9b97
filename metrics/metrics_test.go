package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHostCall(t *testing.T) {
	before := testutil.ToFloat64(hostCalls.WithLabelValues("m-test", "add", OutcomeOK))
	RecordHostCall("m-test", "add", OutcomeOK, 3*time.Millisecond)
	RecordHostCall("m-test", "add", OutcomeOK, time.Millisecond)
	assert.Equal(t, before+2, testutil.ToFloat64(hostCalls.WithLabelValues("m-test", "add", OutcomeOK)))
}

func TestRecordBroadcastCountsPeers(t *testing.T) {
	before := testutil.ToFloat64(hostBroadcasts.WithLabelValues("m-test", "event"))
	RecordBroadcast("m-test", "event", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(hostBroadcasts.WithLabelValues("m-test", "event")))
}

func TestRecordDrop(t *testing.T) {
	before := testutil.ToFloat64(droppedMessages.WithLabelValues("guest", DropSpoofed))
	RecordDrop("guest", DropSpoofed)
	assert.Equal(t, before+1, testutil.ToFloat64(droppedMessages.WithLabelValues("guest", DropSpoofed)))
}
