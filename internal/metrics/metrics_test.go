package metrics

import (
	"errors"
	"testing"

	"github.com/hypergolix/hypergolix/internal/golix"
)

func TestObserveIngestCountsSuccessAndFailureSeparately(t *testing.T) {
	m := New()

	m.ObserveIngest(golix.KindGEOC, nil)
	m.ObserveIngest(golix.KindGEOC, nil)
	m.ObserveIngest(golix.KindGEOC, errors.New("boom"))

	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var sawSuccess, sawFailure bool
	for _, mf := range mfs {
		switch mf.GetName() {
		case "hypergolix_ingest_total":
			for _, metric := range mf.GetMetric() {
				if metric.GetCounter().GetValue() == 2 {
					sawSuccess = true
				}
			}
		case "hypergolix_ingest_errors_total":
			for _, metric := range mf.GetMetric() {
				if metric.GetCounter().GetValue() == 1 {
					sawFailure = true
				}
			}
		}
	}
	if !sawSuccess {
		t.Fatal("expected ingest_total to record 2 successes")
	}
	if !sawFailure {
		t.Fatal("expected ingest_errors_total to record 1 failure")
	}
}

func TestSweepCountersAccumulate(t *testing.T) {
	m := New()
	m.AddGCSwept(3)
	m.AddGCSwept(2)
	m.AddStageAbandoned(1)
	m.SetLiveObjects(5)

	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	got := map[string]float64{}
	for _, mf := range mfs {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				got[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				got[mf.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	if got["hypergolix_gc_swept_total"] != 5 {
		t.Fatalf("expected gc_swept_total 5, got %v", got["hypergolix_gc_swept_total"])
	}
	if got["hypergolix_stage_secrets_abandoned_total"] != 1 {
		t.Fatalf("expected stage_secrets_abandoned_total 1, got %v", got["hypergolix_stage_secrets_abandoned_total"])
	}
	if got["hypergolix_oracle_live_objects"] != 5 {
		t.Fatalf("expected oracle_live_objects 5, got %v", got["hypergolix_oracle_live_objects"])
	}
}
