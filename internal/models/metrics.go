package models

import "time"

// SystemMetrics is a point-in-time snapshot of service activity.
type SystemMetrics struct {
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	CacheHits                uint64            `json:"cache_hits"`
	CacheMisses              uint64            `json:"cache_misses"`
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"avg_request_duration_ms"`
	DBQueryCount             uint64            `json:"db_query_count"`
	AverageDBQueryDurationMs float64           `json:"avg_db_query_duration_ms"`
	LLMCalls                 uint64            `json:"llm_calls"`
	LLMFailures              uint64            `json:"llm_failures"`
	TurnsTotal               uint64            `json:"turns_total"`
	TurnsByStatus            map[string]uint64 `json:"turns_by_status"`
	ActiveSessions           int               `json:"active_sessions"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
