// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDBQuery(t *testing.T) {
	before := testutil.CollectAndCount(DBQueryErrors)

	RecordDBQuery("select", "temperature", 25*time.Millisecond, nil)
	RecordDBQuery("select", "temperature", 25*time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(DBQueryErrors.WithLabelValues("select", "temperature")); got != 1 {
		t.Errorf("expected 1 recorded error, got %v", got)
	}
	if after := testutil.CollectAndCount(DBQueryErrors); after <= before {
		t.Errorf("expected error series to appear, before=%d after=%d", before, after)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	RecordAPIRequest("GET", "/v1/api/networks", 200, 10*time.Millisecond)
	RecordAPIRequest("GET", "/v1/api/networks", 200, 12*time.Millisecond)

	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/v1/api/networks", "200")); got != 2 {
		t.Errorf("expected 2 requests recorded, got %v", got)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	RecordCacheLookup("metadata", true)
	RecordCacheLookup("metadata", false)
	RecordCacheLookup("metadata", false)

	if got := testutil.ToFloat64(CacheHits.WithLabelValues("metadata")); got != 1 {
		t.Errorf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues("metadata")); got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}
}

func TestRecordExportJob(t *testing.T) {
	RecordExportJob(2*time.Second, nil)
	RecordExportJob(time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(ExportJobsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(ExportJobsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}
