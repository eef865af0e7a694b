package monitor

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Monitor stores the agent counters and exposes them to prometheus and the
// local API.
type Monitor struct {
	Report    Report
	collector *Collector
}

func New() (self *Monitor) {
	self = new(Monitor)
	self.Report.Run.StartedAt.Store(time.Now().Unix())
	self.collector = NewCollector().WithMonitor(self)
	return
}

func (self *Monitor) GetReport() *Report {
	return &self.Report
}

func (self *Monitor) GetPrometheusCollector() prometheus.Collector {
	return self.collector
}

// IsOK is false while no session is running.
func (self *Monitor) IsOK() bool {
	return self.Report.Run.Sessions.Load() > 0
}

func (self *Monitor) OnGetState(c *gin.Context) {
	c.JSON(http.StatusOK, &self.Report)
}

func (self *Monitor) OnGetHealth(c *gin.Context) {
	if self.IsOK() {
		c.Status(http.StatusOK)
	} else {
		c.Status(http.StatusServiceUnavailable)
	}
}
