package embedding

import (
	"errors"
	"testing"
	"time"
)

func TestTrackerAggregatesCompletions(t *testing.T) {
	tr := newTracker(40, 2, discardLogger())

	events := make(chan completion, 2)
	okItems := testItems(40)[:20]
	okVectors := make([][]float32, 20)
	for i := range okVectors {
		okVectors[i] = vectorFor(okItems[i].Text)
	}
	events <- completion{batch: 0, items: okItems, vectors: okVectors, at: time.Now()}
	events <- completion{batch: 1, items: testItems(40)[20:], err: errors.New("boom"), at: time.Now()}
	close(events)

	res := tr.run(events)
	if res.Submitted != 40 || res.Succeeded != 20 || res.Failed != 20 {
		t.Errorf("counts = %d/%d/%d", res.Submitted, res.Succeeded, res.Failed)
	}
	if len(res.Vectors) != 20 {
		t.Errorf("vectors = %d", len(res.Vectors))
	}
	if _, ok := res.Vectors[5]; !ok {
		t.Error("row 5 missing from successes")
	}
	if len(res.FailedBatches) != 1 || res.FailedBatches[0].Rows[0] != 20 {
		t.Errorf("failed batches = %+v", res.FailedBatches)
	}
	if res.Duration < 0 {
		t.Errorf("duration = %v", res.Duration)
	}
}

func TestTrackerThroughput(t *testing.T) {
	tr := newTracker(200, 10, discardLogger())
	base := time.Now()
	for i := 0; i < 5; i++ {
		tr.observe(base.Add(time.Duration(i)*10*time.Second), 20)
	}

	perMin, eta := tr.throughput(100)
	// 80 records over the 40s window: 2 per second
	if perMin < 119.9 || perMin > 120.1 {
		t.Errorf("rate = %g per minute, want 120", perMin)
	}
	if eta != 50*time.Second {
		t.Errorf("eta = %v, want 50s for the remaining 100 records", eta)
	}
}

func TestTrackerThroughputNeedsTwoObservations(t *testing.T) {
	tr := newTracker(100, 5, discardLogger())
	tr.observe(time.Now(), 20)
	if perMin, eta := tr.throughput(20); perMin != 0 || eta != 0 {
		t.Errorf("rate/eta = %g/%v with a single observation", perMin, eta)
	}
}

func TestTrackerWindowSlides(t *testing.T) {
	tr := newTracker(10000, 500, discardLogger())
	base := time.Now()
	// feed more completions than the window holds
	tr.observe(base, 20)
	for i := 1; i <= rateWindow+5; i++ {
		tr.observe(base.Add(time.Duration(i)*time.Minute), 20)
	}
	if len(tr.recent) != rateWindow {
		t.Fatalf("window holds %d observations, want %d", len(tr.recent), rateWindow)
	}
	perMin, _ := tr.throughput(500)
	// steady state is 20 records per minute
	if perMin < 19.9 || perMin > 20.1 {
		t.Errorf("rate = %g per minute, want 20", perMin)
	}
}
