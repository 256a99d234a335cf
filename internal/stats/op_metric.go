// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package stats

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
)

// OpMetric is a wrapper around metric objects that helps with tracking counts
// and latencies for "operations" -- here, requests issued to the agent or
// handled by the device.
//
// OpMetric will create three metric sets:
//   - A CounterVec with the given name, label "result", and any additional labels.
//     Using Start/End will increment this counter with "result"="all".
//     Additionally you can call Failed on the op object to increment the
//     counter with "result"="failed".
//   - A SummaryVec with the given name + "_latency" and any additional labels.
//     Using Start/End will add latencies to this summary, only if Failed was
//     not called before End.
//   - A GaugeVec with the given name + "_pending" and any additional labels.
//     Using Start/End will ensure that this metric reflects the number of
//     pending operations.
//
// Suggested usage:
//
//	op := opm.Start("read")
//	defer op.EndWithError(&err)
type OpMetric struct {
	name      string
	counters  *prometheus.CounterVec
	latencies *prometheus.SummaryVec
	pending   *prometheus.GaugeVec
}

// NewOpMetric returns a new op metric.
func NewOpMetric(name string, labels ...string) *OpMetric {
	labelsWithResult := append([]string{"result"}, labels...)
	return &OpMetric{
		name:      name,
		counters:  promauto.NewCounterVec(prometheus.CounterOpts{Name: name}, labelsWithResult),
		latencies: promauto.NewSummaryVec(prometheus.SummaryOpts{Name: name + "_latency"}, labels),
		pending:   promauto.NewGaugeVec(prometheus.GaugeOpts{Name: name + "_pending"}, labels),
	}
}

// Start marks that a new operation has started and begins measuring the latency.
func (m *OpMetric) Start(values ...string) *Op {
	op := &Op{opm: m, values: values}
	op.Result("all") // this resets start, so set it below
	op.start = time.Now().UnixNano()
	op.opm.pending.WithLabelValues(values...).Inc()
	return op
}

// Count returns how many times an operation finished with the given result.
func (m *OpMetric) Count(result string, values ...string) uint64 {
	valuesWithResult := append([]string{result}, values...)
	mtr := m.counters.WithLabelValues(valuesWithResult...)
	var value dto.Metric
	if mtr.Write(&value) != nil {
		return 0
	}
	return uint64(*value.Counter.Value)
}

// String returns a nice string with latency information.
func (m *OpMetric) String(values ...string) string {
	out := SummaryString(m.latencies.WithLabelValues(values...))
	out += fmt.Sprintf(" / %d failed", m.Count("failed", values...))
	return out
}

// Op measures one in-flight operation.
type Op struct {
	start  int64
	opm    *OpMetric
	values []string
}

// Failed records that the operation returned an error.
func (op *Op) Failed() {
	op.Result("failed")
}

// Result records an arbitrary error result.
func (op *Op) Result(result string) {
	op.start = 0 // zero this so that End won't try to record latency
	valuesWithResult := append([]string{result}, op.values...)
	op.opm.counters.WithLabelValues(valuesWithResult...).Inc()
}

// End records the elapsed time since the Op was created.
func (op *Op) End() {
	if op.start != 0 {
		d := time.Duration(time.Now().UnixNano() - op.start)
		op.opm.latencies.WithLabelValues(op.values...).Observe(float64(d) / 1e9)
	}
	op.opm.pending.WithLabelValues(op.values...).Dec()
}

// EndWithError checks if err is core.NoError: if not, it calls Failed().
// It always calls End.
func (op *Op) EndWithError(err *core.Error) {
	if *err != core.NoError {
		op.Failed()
	}
	op.End()
}

// SummaryString formats the quantiles of a summary metric for status pages.
func SummaryString(obs prometheus.Observer) string {
	sum, ok := obs.(prometheus.Summary)
	if !ok {
		return ""
	}
	var value dto.Metric
	if sum.Write(&value) != nil || value.Summary == nil {
		return ""
	}
	out := fmt.Sprintf("Total count=%d;", *value.Summary.SampleCount)
	for _, q := range value.Summary.Quantile {
		out += fmt.Sprintf(" %gth=%.3f;", *q.Quantile*100, *q.Value)
	}
	return out[:len(out)-1]
}
