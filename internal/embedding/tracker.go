package embedding

import (
	"log/slog"
	"time"
)

// Progress reporting cadence: whichever of the two comes first.
const (
	reportEvery    = 50 // records
	reportInterval = 30 * time.Second
)

// rateWindow is how many recent batch completions feed the throughput
// estimate. A short window tracks the current rate, not the run average.
const rateWindow = 20

type obs struct {
	at      time.Time
	records int
}

// tracker consumes worker completions on a single goroutine and owns all
// mutable run state: the result map, the counters and the reporting
// clock. Workers only send events.
type tracker struct {
	totalRecords int
	totalBatches int
	logger       *slog.Logger
	now          func() time.Time

	recent []obs
}

func newTracker(records, batches int, logger *slog.Logger) *tracker {
	return &tracker{totalRecords: records, totalBatches: batches, logger: logger, now: time.Now}
}

func (t *tracker) run(events <-chan completion) *Result {
	start := t.now()
	res := &Result{
		Vectors:   make(map[int][]float32, t.totalRecords),
		Submitted: t.totalRecords,
	}
	done := 0
	batchesDone := 0
	lastReportCount := 0
	lastReportAt := start

	for ev := range events {
		batchesDone++
		done += len(ev.items)

		if ev.err != nil {
			rows := make([]int, len(ev.items))
			for i, it := range ev.items {
				rows[i] = it.Row
			}
			res.FailedBatches = append(res.FailedBatches, FailedBatch{Rows: rows, Err: ev.err})
			res.Failed += len(ev.items)
			t.logger.Warn("embedding batch failed",
				"batch", ev.batch, "records", len(ev.items), "error", ev.err)
		} else {
			for i, it := range ev.items {
				res.Vectors[it.Row] = ev.vectors[i]
			}
			res.Succeeded += len(ev.items)
		}

		t.observe(ev.at, len(ev.items))
		if done-lastReportCount >= reportEvery ||
			ev.at.Sub(lastReportAt) >= reportInterval ||
			batchesDone == t.totalBatches {
			perMin, eta := t.throughput(done)
			t.logger.Info("embedding progress",
				"completed", done,
				"total", t.totalRecords,
				"succeeded", res.Succeeded,
				"failed", res.Failed,
				"rate_per_min", perMin,
				"eta", eta.Round(time.Second))
			lastReportCount = done
			lastReportAt = ev.at
		}
	}

	res.Duration = t.now().Sub(start)
	return res
}

func (t *tracker) observe(at time.Time, records int) {
	t.recent = append(t.recent, obs{at: at, records: records})
	if len(t.recent) > rateWindow {
		t.recent = t.recent[1:]
	}
}

// throughput estimates records per minute from the recent completions and
// the time left for the remaining records. With fewer than two
// observations there is no rate yet.
func (t *tracker) throughput(done int) (float64, time.Duration) {
	if len(t.recent) < 2 {
		return 0, 0
	}
	span := t.recent[len(t.recent)-1].at.Sub(t.recent[0].at)
	if span <= 0 {
		return 0, 0
	}
	records := 0
	for _, o := range t.recent[1:] {
		records += o.records
	}
	perSec := float64(records) / span.Seconds()
	if perSec <= 0 {
		return 0, 0
	}
	remaining := t.totalRecords - done
	eta := time.Duration(float64(remaining) / perSec * float64(time.Second))
	return perSec * 60, eta
}
