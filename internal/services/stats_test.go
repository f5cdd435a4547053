package services

import (
	"sync"
	"testing"
	"time"
)

func TestStats_ConnectionCounters(t *testing.T) {
	s := NewStats()

	s.ConnectionOpened()
	s.ConnectionOpened()
	s.ConnectionClosed()

	snap := s.Snapshot()
	if snap.ActiveConnections != 1 {
		t.Errorf("expected 1 active connection, got %d", snap.ActiveConnections)
	}
	if snap.TotalConnections != 2 {
		t.Errorf("expected 2 total connections, got %d", snap.TotalConnections)
	}
}

func TestStats_RequestTracking(t *testing.T) {
	s := NewStats()

	started := s.RequestStarted()
	time.Sleep(5 * time.Millisecond)
	s.RequestFinished(started)

	snap := s.Snapshot()
	if snap.APICalls != 1 {
		t.Errorf("expected 1 api call, got %d", snap.APICalls)
	}
	if snap.ConcurrentRequests != 0 {
		t.Errorf("expected 0 in-flight after finish, got %d", snap.ConcurrentRequests)
	}
	if snap.MaxConcurrentRequests != 1 {
		t.Errorf("expected max concurrency 1, got %d", snap.MaxConcurrentRequests)
	}
	if snap.AvgResponseTime <= 0 {
		t.Errorf("expected positive average response time, got %f", snap.AvgResponseTime)
	}
}

func TestStats_MaxConcurrentHighWaterMark(t *testing.T) {
	s := NewStats()

	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := s.RequestStarted()
			<-release
			s.RequestFinished(started)
		}()
	}

	// Wait until every goroutine holds a slot.
	for s.Snapshot().ConcurrentRequests != 8 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	snap := s.Snapshot()
	if snap.MaxConcurrentRequests != 8 {
		t.Errorf("expected high-water mark 8, got %d", snap.MaxConcurrentRequests)
	}
	if snap.ConcurrentRequests != 0 {
		t.Errorf("expected 0 in-flight, got %d", snap.ConcurrentRequests)
	}
}

func TestStats_ResponseTimeWindowBounded(t *testing.T) {
	s := NewStats()

	for i := 0; i < responseTimeWindow+50; i++ {
		s.RequestFinished(time.Now())
	}

	s.mu.Lock()
	n := len(s.responseTimes)
	s.mu.Unlock()
	if n != responseTimeWindow {
		t.Errorf("expected window bounded at %d, got %d", responseTimeWindow, n)
	}
}

func TestStats_AvgResponseTimeEmpty(t *testing.T) {
	s := NewStats()
	if got := s.AvgResponseTime(); got != 0 {
		t.Errorf("expected 0 with no samples, got %f", got)
	}
}
