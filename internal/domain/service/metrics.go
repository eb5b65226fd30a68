package service

import "time"

// Metrics receives executor and loop counters. Implementations must be
// safe for concurrent use; the monitoring package provides the production
// one.
type Metrics interface {
	IncToolCallTotal()
	IncToolCallSuccess()
	IncToolCallFailed()
	IncToolRetry()
	IncModelCall()
	RecordToolLatency(time.Duration)
}

// nopMetrics is the default sink when no monitor is attached.
type nopMetrics struct{}

func (nopMetrics) IncToolCallTotal()               {}
func (nopMetrics) IncToolCallSuccess()             {}
func (nopMetrics) IncToolCallFailed()              {}
func (nopMetrics) IncToolRetry()                   {}
func (nopMetrics) IncModelCall()                   {}
func (nopMetrics) RecordToolLatency(time.Duration) {}
