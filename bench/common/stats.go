package common

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Stats tracks benchmark statistics including throughput and latency of
// export and import pipelines.
type Stats struct {
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time

	roundTrips     int64
	plainBytes     int64
	containerBytes int64
	errors         int64

	// HDR histograms for latency tracking (in microseconds)
	// Range: 1 microsecond to 60 seconds, 3 significant figures
	exportHist *hdrhistogram.Histogram
	importHist *hdrhistogram.Histogram
}

// NewStats creates a new Stats instance with HDR histograms initialized.
func NewStats() *Stats {
	return &Stats{
		exportHist: hdrhistogram.New(1, 60000000, 3),
		importHist: hdrhistogram.New(1, 60000000, 3),
	}
}

// Start begins the timing period.
func (s *Stats) Start() {
	s.startTime = time.Now()
}

// Stop ends the timing period.
func (s *Stats) Stop() {
	s.endTime = time.Now()
}

// RecordRoundTrip records a completed export and import of a document.
func (s *Stats) RecordRoundTrip(plain, container int, exportTime, importTime time.Duration) {
	atomic.AddInt64(&s.roundTrips, 1)
	atomic.AddInt64(&s.plainBytes, int64(plain))
	atomic.AddInt64(&s.containerBytes, int64(container))
	s.mu.Lock()
	s.exportHist.RecordValue(exportTime.Microseconds())
	s.importHist.RecordValue(importTime.Microseconds())
	s.mu.Unlock()
}

// RecordError increments the error counter.
func (s *Stats) RecordError() {
	atomic.AddInt64(&s.errors, 1)
}

// Duration returns the total benchmark duration.
func (s *Stats) Duration() time.Duration {
	return s.endTime.Sub(s.startTime)
}

// RoundTrips returns the number of completed round trips.
func (s *Stats) RoundTrips() int64 {
	return atomic.LoadInt64(&s.roundTrips)
}

// PlainBytes returns the markup bytes exported.
func (s *Stats) PlainBytes() int64 {
	return atomic.LoadInt64(&s.plainBytes)
}

// ContainerBytes returns the container bytes produced.
func (s *Stats) ContainerBytes() int64 {
	return atomic.LoadInt64(&s.containerBytes)
}

// Errors returns the total error count.
func (s *Stats) Errors() int64 {
	return atomic.LoadInt64(&s.errors)
}

// RoundTripsPerSecond calculates the round trip throughput.
func (s *Stats) RoundTripsPerSecond() float64 {
	duration := s.Duration().Seconds()
	if duration == 0 {
		return 0
	}
	return float64(s.RoundTrips()) / duration
}

// MBPerSecond calculates the markup MB/s pushed through both pipelines.
func (s *Stats) MBPerSecond() float64 {
	duration := s.Duration().Seconds()
	if duration == 0 {
		return 0
	}
	return float64(2*s.PlainBytes()) / duration / 1024 / 1024
}

// CompressionRatio returns the container size relative to the markup.
func (s *Stats) CompressionRatio() float64 {
	plain := s.PlainBytes()
	if plain == 0 {
		return 0
	}
	return float64(s.ContainerBytes()) / float64(plain)
}

// Latency summarizes one latency histogram.
type Latency struct {
	Min  time.Duration
	Mean time.Duration
	P50  time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration
}

// ExportLatency returns the latency summary of exports.
func (s *Stats) ExportLatency() Latency {
	return s.latency(s.exportHist)
}

// ImportLatency returns the latency summary of imports.
func (s *Stats) ImportLatency() Latency {
	return s.latency(s.importHist)
}

func (s *Stats) latency(h *hdrhistogram.Histogram) Latency {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return Latency{
		Min:  us(h.Min()),
		Mean: us(int64(h.Mean())),
		P50:  us(h.ValueAtQuantile(50)),
		P95:  us(h.ValueAtQuantile(95)),
		P99:  us(h.ValueAtQuantile(99)),
		Max:  us(h.Max()),
	}
}
