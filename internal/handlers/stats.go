package handlers

import (
	"chatgate/internal/services"

	"github.com/gofiber/fiber/v2"
)

// StatsHandler serves the monitoring endpoint.
type StatsHandler struct {
	stats    *services.Stats
	cache    *services.ResponseCache
	sessions *services.SessionStore
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(stats *services.Stats, cache *services.ResponseCache, sessions *services.SessionStore) *StatsHandler {
	return &StatsHandler{stats: stats, cache: cache, sessions: sessions}
}

// Handle responds with a snapshot of the gateway counters plus derived
// fields: uptime, cache hit rate, average response time.
func (h *StatsHandler) Handle(c *fiber.Ctx) error {
	snap := h.stats.Snapshot()

	var hitRate float64
	if total := snap.CacheHits + snap.APICalls; total > 0 {
		hitRate = float64(snap.CacheHits) / float64(total)
	}

	return c.JSON(fiber.Map{
		"active_connections":      snap.ActiveConnections,
		"total_connections":       snap.TotalConnections,
		"messages_processed":      snap.MessagesProcessed,
		"errors":                  snap.Errors,
		"concurrent_requests":     snap.ConcurrentRequests,
		"max_concurrent_requests": snap.MaxConcurrentRequests,
		"cache_hits":              snap.CacheHits,
		"api_calls":               snap.APICalls,
		"cache_hit_rate":          hitRate,
		"cache_size":              h.cache.Len(),
		"active_sessions":         h.sessions.Len(),
		"dropped_chat_logs":       snap.DroppedChatLogs,
		"avg_response_time":       snap.AvgResponseTime,
		"uptime_seconds":          snap.Uptime.Seconds(),
		"uptime_hours":            snap.Uptime.Hours(),
	})
}
