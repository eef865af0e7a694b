package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pders01/pollsync/internal/catalog"
	"github.com/pders01/pollsync/internal/dispatch"
	"github.com/pders01/pollsync/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

var errNoSession = errors.New("sync session not running")

func (self *Server) current(c *gin.Context) *Session {
	s := self.session.Load()
	if s == nil {
		abort(c, http.StatusServiceUnavailable, errNoSession)
	}
	return s
}

func (self *Server) onGetHealth(c *gin.Context) {
	if self.opts.Monitor == nil {
		c.Status(http.StatusOK)
		return
	}
	self.opts.Monitor.OnGetHealth(c)
}

func (self *Server) onGetState(c *gin.Context) {
	if self.opts.Monitor == nil {
		c.Status(http.StatusNotFound)
		return
	}
	self.opts.Monitor.OnGetState(c)
}

func (self *Server) onGetQueue(c *gin.Context) {
	// store failures read as an empty queue
	pending, err := self.opts.Queue.Count()
	if err != nil {
		self.log.WithError(err).Warn("Counting queue failed")
	}
	items, err := self.opts.Queue.All()
	if err != nil {
		self.log.WithError(err).Warn("Listing queue failed")
	}
	if items == nil {
		items = []*storage.QueueItem{}
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending, "items": items})
}

type submitRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

func (self *Server) onPostQueue(c *gin.Context) {
	var in submitRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	s := self.current(c)
	if s == nil {
		return
	}

	res, err := s.Catalog.Submit(c.Request.Context(), in.Type, in.Payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatch.ErrUnknownType) || errors.Is(err, dispatch.ErrInvalidPayload) {
			status = http.StatusBadRequest
		}
		abort(c, status, err)
		return
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

func (self *Server) onProcessQueue(c *gin.Context) {
	s := self.current(c)
	if s == nil {
		return
	}
	c.JSON(http.StatusOK, s.Orchestrator.ProcessNow(c.Request.Context()))
}

func (self *Server) onResume(c *gin.Context) {
	if self.opts.Resume != nil {
		select {
		case self.opts.Resume <- struct{}{}:
		default:
			// a re-check is already pending
		}
	}
	c.Status(http.StatusAccepted)
}

func (self *Server) onGetPolls(c *gin.Context) {
	if c.Query("refresh") == "true" {
		if s := self.session.Load(); s != nil {
			c.JSON(http.StatusOK, s.Catalog.List(c.Request.Context()))
			return
		}
	}
	c.JSON(http.StatusOK, self.opts.Cache.GetPolls(self.opts.PollMaxAge))
}

func pollID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abort(c, http.StatusBadRequest, errors.New("invalid poll id"))
		return 0, false
	}
	return id, true
}

func (self *Server) onGetPoll(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}

	if s := self.session.Load(); s != nil {
		poll, err := s.Catalog.Get(c.Request.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, catalog.ErrPollNotFound) {
				status = http.StatusNotFound
			}
			abort(c, status, err)
			return
		}
		c.JSON(http.StatusOK, poll)
		return
	}

	poll, found := self.opts.Cache.GetPoll(id, self.opts.PollMaxAge)
	if !found {
		abort(c, http.StatusNotFound, catalog.ErrPollNotFound)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (self *Server) onGetThumbnail(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}
	attachment, found := self.opts.Cache.GetThumbnail(id)
	if !found || len(attachment.Blob) == 0 {
		c.Status(http.StatusNotFound)
		return
	}
	mime := attachment.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	c.Data(http.StatusOK, mime, attachment.Blob)
}

func (self *Server) onSearch(c *gin.Context) {
	if self.opts.Searcher == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	results, err := self.opts.Searcher.Search(c.Query("q"), limit)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, results)
}
