package monitor

import (
	"go.uber.org/atomic"
)

type RunState struct {
	StartedAt atomic.Int64  `json:"started_at"`
	Sessions  atomic.Uint64 `json:"sessions"`
}

type QueueState struct {
	Drains        atomic.Uint64 `json:"drains"`
	DrainsSkipped atomic.Uint64 `json:"drains_skipped"`
	Sent          atomic.Uint64 `json:"sent"`
	Retried       atomic.Uint64 `json:"retried"`
	Failed        atomic.Uint64 `json:"failed"`
	Enqueued      atomic.Uint64 `json:"enqueued"`
	Pending       atomic.Int64  `json:"pending"`
	LastDrainAt   atomic.Int64  `json:"last_drain_at"`
}

type SyncState struct {
	Online           atomic.Bool   `json:"online"`
	Transitions      atomic.Uint64 `json:"transitions"`
	ReloadsRequested atomic.Uint64 `json:"reloads_requested"`
	TokenRefreshes   atomic.Uint64 `json:"token_refreshes"`
}

type CacheState struct {
	PollsCached      atomic.Int64  `json:"polls_cached"`
	PollsSwept       atomic.Uint64 `json:"polls_swept"`
	CatalogRefreshes atomic.Uint64 `json:"catalog_refreshes"`
	RefreshFailures  atomic.Uint64 `json:"refresh_failures"`
}

// Report holds every counter the agent exposes. Fields are updated in place
// by the components and read by the collector and the state endpoint.
type Report struct {
	Run   RunState   `json:"run"`
	Queue QueueState `json:"queue"`
	Sync  SyncState  `json:"sync"`
	Cache CacheState `json:"cache"`
}
