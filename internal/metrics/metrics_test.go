package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if threadsProcessedTotal == nil || magnetsParsedTotal == nil ||
		resolutionsTotal == nil || orphansTotal == nil ||
		tasksFinishedTotal == nil || fetchDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestCounters(t *testing.T) {
	Init()

	ThreadProcessed("ok")
	if got := testutil.ToFloat64(threadsProcessedTotal.WithLabelValues("ok")); got < 1 {
		t.Fatalf("threads processed counter = %v; want >= 1", got)
	}

	MagnetParsed("parsed")
	if got := testutil.ToFloat64(magnetsParsedTotal.WithLabelValues("parsed")); got < 1 {
		t.Fatalf("magnets parsed counter = %v; want >= 1", got)
	}

	OrphanRecorded("NO_METADATA_MATCH")
	if got := testutil.ToFloat64(orphansTotal.WithLabelValues("NO_METADATA_MATCH")); got < 1 {
		t.Fatalf("orphans counter = %v; want >= 1", got)
	}

	before := testutil.ToFloat64(orphansRescuedTotal)
	OrphanRescued()
	if got := testutil.ToFloat64(orphansRescuedTotal); got != before+1 {
		t.Fatalf("orphans rescued counter = %v; want %v", got, before+1)
	}
}

func TestGauges(t *testing.T) {
	Init()

	SetQueueDepth(17)
	if got := testutil.ToFloat64(queueDepth); got != 17 {
		t.Fatalf("queue depth gauge = %v; want 17", got)
	}

	SetActiveExecutors(3)
	if got := testutil.ToFloat64(activeExecutors); got != 3 {
		t.Fatalf("active executors gauge = %v; want 3", got)
	}
}
