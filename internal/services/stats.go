package services

import (
	"sync"
	"sync/atomic"
	"time"
)

// responseTimeWindow is how many recent upstream turns feed the average.
const responseTimeWindow = 100

// Stats aggregates the gateway counters consumed by the /stats endpoint.
// Counters are atomics; the response-time ring has its own small mutex.
type Stats struct {
	startTime time.Time

	activeConnections     atomic.Int64
	totalConnections      atomic.Int64
	messagesProcessed     atomic.Int64
	errors                atomic.Int64
	concurrentRequests    atomic.Int64
	maxConcurrentRequests atomic.Int64
	cacheHits             atomic.Int64
	apiCalls              atomic.Int64
	droppedChatLogs       atomic.Int64

	mu            sync.Mutex
	responseTimes []float64 // seconds, most recent last
}

// NewStats creates a stats aggregator anchored at now.
func NewStats() *Stats {
	return &Stats{
		startTime:     time.Now(),
		responseTimes: make([]float64, 0, responseTimeWindow),
	}
}

func (s *Stats) ConnectionOpened() {
	s.activeConnections.Add(1)
	s.totalConnections.Add(1)
}

func (s *Stats) ConnectionClosed() {
	s.activeConnections.Add(-1)
}

func (s *Stats) MessageProcessed() {
	s.messagesProcessed.Add(1)
}

func (s *Stats) ErrorOccurred() {
	s.errors.Add(1)
}

func (s *Stats) CacheHit() {
	s.cacheHits.Add(1)
}

func (s *Stats) ChatLogDropped() {
	s.droppedChatLogs.Add(1)
}

// RequestStarted marks one in-flight upstream call and returns its start
// time for RequestFinished.
func (s *Stats) RequestStarted() time.Time {
	s.apiCalls.Add(1)
	current := s.concurrentRequests.Add(1)
	for {
		max := s.maxConcurrentRequests.Load()
		if current <= max || s.maxConcurrentRequests.CompareAndSwap(max, current) {
			break
		}
	}
	return time.Now()
}

// RequestFinished records the turn's response time and releases the
// in-flight counter.
func (s *Stats) RequestFinished(startedAt time.Time) {
	s.concurrentRequests.Add(-1)

	elapsed := time.Since(startedAt).Seconds()
	s.mu.Lock()
	s.responseTimes = append(s.responseTimes, elapsed)
	if len(s.responseTimes) > responseTimeWindow {
		s.responseTimes = s.responseTimes[len(s.responseTimes)-responseTimeWindow:]
	}
	s.mu.Unlock()
}

// AvgResponseTime returns the mean of the rolling window in seconds.
func (s *Stats) AvgResponseTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responseTimes) == 0 {
		return 0
	}
	var sum float64
	for _, t := range s.responseTimes {
		sum += t
	}
	return sum / float64(len(s.responseTimes))
}

// Snapshot is a point-in-time view of all counters.
type Snapshot struct {
	Uptime                time.Duration
	ActiveConnections     int64
	TotalConnections      int64
	MessagesProcessed     int64
	Errors                int64
	ConcurrentRequests    int64
	MaxConcurrentRequests int64
	CacheHits             int64
	APICalls              int64
	DroppedChatLogs       int64
	AvgResponseTime       float64
}

// Snapshot reads every counter once.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Uptime:                time.Since(s.startTime),
		ActiveConnections:     s.activeConnections.Load(),
		TotalConnections:      s.totalConnections.Load(),
		MessagesProcessed:     s.messagesProcessed.Load(),
		Errors:                s.errors.Load(),
		ConcurrentRequests:    s.concurrentRequests.Load(),
		MaxConcurrentRequests: s.maxConcurrentRequests.Load(),
		CacheHits:             s.cacheHits.Load(),
		APICalls:              s.apiCalls.Load(),
		DroppedChatLogs:       s.droppedChatLogs.Load(),
		AvgResponseTime:       s.AvgResponseTime(),
	}
}
