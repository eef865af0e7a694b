package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	monitor *Monitor

	// Run
	UpForSeconds *prometheus.Desc
	Sessions     *prometheus.Desc

	// Queue
	Drains        *prometheus.Desc
	DrainsSkipped *prometheus.Desc
	Sent          *prometheus.Desc
	Retried       *prometheus.Desc
	Failed        *prometheus.Desc
	Enqueued      *prometheus.Desc
	Pending       *prometheus.Desc

	// Sync
	Online           *prometheus.Desc
	Transitions      *prometheus.Desc
	ReloadsRequested *prometheus.Desc
	TokenRefreshes   *prometheus.Desc

	// Cache
	PollsCached      *prometheus.Desc
	PollsSwept       *prometheus.Desc
	CatalogRefreshes *prometheus.Desc
	RefreshFailures  *prometheus.Desc
}

func NewCollector() *Collector {
	return &Collector{
		// Run
		UpForSeconds: prometheus.NewDesc("pollsync_up_for_seconds", "Seconds since the agent started", nil, nil),
		Sessions:     prometheus.NewDesc("pollsync_sessions_total", "Sync sessions started, including reloads", nil, nil),

		// Queue
		Drains:        prometheus.NewDesc("pollsync_queue_drains_total", "Completed queue drains", nil, nil),
		DrainsSkipped: prometheus.NewDesc("pollsync_queue_drains_skipped_total", "Drains skipped because one was already running", nil, nil),
		Sent:          prometheus.NewDesc("pollsync_queue_sent_total", "Submissions delivered from the queue", nil, nil),
		Retried:       prometheus.NewDesc("pollsync_queue_retried_total", "Submissions left pending after a failed pass", nil, nil),
		Failed:        prometheus.NewDesc("pollsync_queue_failed_total", "Submissions marked failed after the retry ceiling", nil, nil),
		Enqueued:      prometheus.NewDesc("pollsync_queue_enqueued_total", "Submissions accepted into the queue", nil, nil),
		Pending:       prometheus.NewDesc("pollsync_queue_pending", "Queue items eligible for delivery", nil, nil),

		// Sync
		Online:           prometheus.NewDesc("pollsync_online", "1 when the remote API is reachable", nil, nil),
		Transitions:      prometheus.NewDesc("pollsync_connectivity_transitions_total", "Online/offline transitions", nil, nil),
		ReloadsRequested: prometheus.NewDesc("pollsync_reloads_requested_total", "Forced session reloads before a drain", nil, nil),
		TokenRefreshes:   prometheus.NewDesc("pollsync_token_refreshes_total", "Token refreshes after an unauthorized send", nil, nil),

		// Cache
		PollsCached:      prometheus.NewDesc("pollsync_polls_cached", "Polls in the local cache", nil, nil),
		PollsSwept:       prometheus.NewDesc("pollsync_polls_swept_total", "Polls removed by the retention sweep", nil, nil),
		CatalogRefreshes: prometheus.NewDesc("pollsync_catalog_refreshes_total", "Successful poll list refreshes", nil, nil),
		RefreshFailures:  prometheus.NewDesc("pollsync_catalog_refresh_failures_total", "Failed poll list refreshes", nil, nil),
	}
}

func (self *Collector) WithMonitor(m *Monitor) *Collector {
	self.monitor = m
	return self
}

func (self *Collector) Describe(ch chan<- *prometheus.Desc) {
	// Run
	ch <- self.UpForSeconds
	ch <- self.Sessions

	// Queue
	ch <- self.Drains
	ch <- self.DrainsSkipped
	ch <- self.Sent
	ch <- self.Retried
	ch <- self.Failed
	ch <- self.Enqueued
	ch <- self.Pending

	// Sync
	ch <- self.Online
	ch <- self.Transitions
	ch <- self.ReloadsRequested
	ch <- self.TokenRefreshes

	// Cache
	ch <- self.PollsCached
	ch <- self.PollsSwept
	ch <- self.CatalogRefreshes
	ch <- self.RefreshFailures
}

// Collect implements required collect function for all prometheus collectors
func (self *Collector) Collect(ch chan<- prometheus.Metric) {
	r := &self.monitor.Report

	// Run
	up := time.Now().Unix() - r.Run.StartedAt.Load()
	ch <- prometheus.MustNewConstMetric(self.UpForSeconds, prometheus.GaugeValue, float64(up))
	ch <- prometheus.MustNewConstMetric(self.Sessions, prometheus.CounterValue, float64(r.Run.Sessions.Load()))

	// Queue
	ch <- prometheus.MustNewConstMetric(self.Drains, prometheus.CounterValue, float64(r.Queue.Drains.Load()))
	ch <- prometheus.MustNewConstMetric(self.DrainsSkipped, prometheus.CounterValue, float64(r.Queue.DrainsSkipped.Load()))
	ch <- prometheus.MustNewConstMetric(self.Sent, prometheus.CounterValue, float64(r.Queue.Sent.Load()))
	ch <- prometheus.MustNewConstMetric(self.Retried, prometheus.CounterValue, float64(r.Queue.Retried.Load()))
	ch <- prometheus.MustNewConstMetric(self.Failed, prometheus.CounterValue, float64(r.Queue.Failed.Load()))
	ch <- prometheus.MustNewConstMetric(self.Enqueued, prometheus.CounterValue, float64(r.Queue.Enqueued.Load()))
	ch <- prometheus.MustNewConstMetric(self.Pending, prometheus.GaugeValue, float64(r.Queue.Pending.Load()))

	// Sync
	online := 0.0
	if r.Sync.Online.Load() {
		online = 1
	}
	ch <- prometheus.MustNewConstMetric(self.Online, prometheus.GaugeValue, online)
	ch <- prometheus.MustNewConstMetric(self.Transitions, prometheus.CounterValue, float64(r.Sync.Transitions.Load()))
	ch <- prometheus.MustNewConstMetric(self.ReloadsRequested, prometheus.CounterValue, float64(r.Sync.ReloadsRequested.Load()))
	ch <- prometheus.MustNewConstMetric(self.TokenRefreshes, prometheus.CounterValue, float64(r.Sync.TokenRefreshes.Load()))

	// Cache
	ch <- prometheus.MustNewConstMetric(self.PollsCached, prometheus.GaugeValue, float64(r.Cache.PollsCached.Load()))
	ch <- prometheus.MustNewConstMetric(self.PollsSwept, prometheus.CounterValue, float64(r.Cache.PollsSwept.Load()))
	ch <- prometheus.MustNewConstMetric(self.CatalogRefreshes, prometheus.CounterValue, float64(r.Cache.CatalogRefreshes.Load()))
	ch <- prometheus.MustNewConstMetric(self.RefreshFailures, prometheus.CounterValue, float64(r.Cache.RefreshFailures.Load()))
}
