package main

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	a := generate(500, 10, 0.2, 7)
	b := generate(500, 10, 0.2, 7)

	if len(a) != 500 {
		t.Fatalf("expected 500 samples, got %d", len(a))
	}

	fraud := 0
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic workload, sample %d differs", i)
		}
		r := a[i].Request
		if r.Hour < 0 || r.Hour > 23 || r.Amount <= 0 || r.Identifier == "" {
			t.Errorf("invalid sample %+v", r)
		}
		if a[i].IsFraud {
			fraud++
			if r.Hour >= 5 || r.Amount < 20000 {
				t.Errorf("fraud sample outside the fraud profile: %+v", r)
			}
		}
	}
	if fraud < 50 || fraud > 150 {
		t.Errorf("expected roughly 100 fraud samples, got %d", fraud)
	}
}

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.csv")
	data := "Identifier,Amount,Hour,Merchant,is_fraud\n" +
		"a@upi,100.5,10,Chai Point,0\n" +
		"b@upi,not-a-number,10,X,0\n" +
		"c@upi,60000,2,,1\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	samples, err := readCSV(path)
	if err != nil {
		t.Fatalf("readCSV failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 valid rows, got %d", len(samples))
	}
	if samples[0].Request.Merchant != "Chai Point" || samples[0].IsFraud {
		t.Errorf("unexpected first sample %+v", samples[0])
	}
	if samples[1].Request.Amount != 60000 || !samples[1].IsFraud {
		t.Errorf("unexpected second sample %+v", samples[1])
	}

	t.Run("MissingColumn", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.csv")
		os.WriteFile(bad, []byte("identifier,amount\na@upi,1\n"), 0o600)
		if _, err := readCSV(bad); err == nil {
			t.Error("expected missing column error")
		}
	})
}

func TestRunBenchmark(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req ScoreRequest
		json.NewDecoder(r.Body).Decode(&req)

		var resp ScoreResponse
		resp.Transaction.Status = "Legitimate"
		if req.Amount >= 20000 {
			resp.Transaction.Status = "Fraud"
			resp.Transaction.RiskScore = 60
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	samples := []Sample{
		{Request: ScoreRequest{Identifier: "a@upi", Amount: 100, Hour: 10}},
		{Request: ScoreRequest{Identifier: "b@upi", Amount: 30000, Hour: 2}, IsFraud: true},
		{Request: ScoreRequest{Identifier: "c@upi", Amount: 100, Hour: 3}, IsFraud: true},
		{Request: ScoreRequest{Identifier: "d@upi", Amount: 25000, Hour: 12}},
	}

	m := runBenchmark(samples, srv.URL, 2, false)
	if calls.Load() != 4 || m.TotalProcessed != 4 || m.TotalErrors != 0 {
		t.Fatalf("unexpected totals: calls=%d %+v", calls.Load(), m)
	}
	if m.TruePositives != 1 || m.FalseNegatives != 1 || m.FalsePositives != 1 || m.TrueNegatives != 1 {
		t.Errorf("unexpected confusion matrix %d %d %d %d",
			m.TruePositives, m.FalseNegatives, m.FalsePositives, m.TrueNegatives)
	}

	s := summarize(m, time.Second)
	if s.Precision != 0.5 || s.Recall != 0.5 || s.Accuracy != 0.5 || math.Abs(s.F1-0.5) > 1e-12 {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.Throughput != 4 || s.P50 <= 0 || s.P99 < s.P50 {
		t.Errorf("unexpected latency summary %+v", s)
	}
}
