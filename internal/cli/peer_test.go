package cli

import (
	"testing"
	"time"
)

func trackerDone(t *testing.T, tr *sendTracker) bool {
	t.Helper()
	select {
	case <-tr.done:
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func TestSendTrackerAllFinished(t *testing.T) {
	tr := newSendTracker(2)
	tr.add("a")
	tr.add("b")
	tr.finish("a")
	if trackerDone(t, tr) {
		t.Fatal("done closed with one send outstanding")
	}
	tr.finish("b")
	if !trackerDone(t, tr) {
		t.Fatal("done not closed after all sends finished")
	}
}

func TestSendTrackerCountsDroppedFiles(t *testing.T) {
	// A file that fails to open never reaches the engine; without
	// accounting for it the invocation would wait forever.
	tr := newSendTracker(3)
	tr.drop()
	tr.add("a")
	tr.finish("a")
	tr.drop()
	if !trackerDone(t, tr) {
		t.Fatal("done not closed after drops and finishes cover all files")
	}
}

func TestSendTrackerCountsErroredTransfers(t *testing.T) {
	tr := newSendTracker(1)
	tr.add("a")
	// The error callback reports the same id as a successful send would.
	tr.finish("a")
	if !trackerDone(t, tr) {
		t.Fatal("done not closed after errored transfer was finished")
	}
}

func TestSendTrackerEarlyFinish(t *testing.T) {
	// A tiny file can complete before QueueFile's id is recorded.
	tr := newSendTracker(1)
	tr.finish("a")
	tr.add("a")
	if !trackerDone(t, tr) {
		t.Fatal("done not closed when finish arrived before add")
	}
}

func TestSendTrackerIgnoresUnknownIDs(t *testing.T) {
	// Receiving transfers report errors through the same callback but
	// must not count against the send total.
	tr := newSendTracker(1)
	tr.add("a")
	tr.finish("inbound")
	if trackerDone(t, tr) {
		t.Fatal("done closed by an id that was never queued")
	}
	tr.finish("a")
	if !trackerDone(t, tr) {
		t.Fatal("done not closed after the real send finished")
	}
}
