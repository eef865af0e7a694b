package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/pders01/pollsync/internal/cache"
	"github.com/pders01/pollsync/internal/catalog"
	"github.com/pders01/pollsync/internal/dispatch"
	"github.com/pders01/pollsync/internal/dispatch/responses"
	"github.com/pders01/pollsync/internal/monitor"
	"github.com/pders01/pollsync/internal/orchestrator"
	"github.com/pders01/pollsync/internal/queue"
	"github.com/pders01/pollsync/internal/search"
	"github.com/pders01/pollsync/internal/storage"
)

type recordingPoster struct {
	posts atomic.Int32
	fail  atomic.Bool
}

func (p *recordingPoster) PostJSON(context.Context, string, any) error {
	if p.fail.Load() {
		return &statusErr{}
	}
	p.posts.Inc()
	return nil
}

func (p *recordingPoster) PutJSON(ctx context.Context, path string, body any) error {
	return p.PostJSON(ctx, path, body)
}

type statusErr struct{}

func (*statusErr) Error() string { return "503 service unavailable" }

type staticConn struct{ online atomic.Bool }

func (c *staticConn) Online() bool        { return c.online.Load() }
func (c *staticConn) Events() <-chan bool { return nil }

type fixture struct {
	server *Server
	store  *storage.Store
	queue  *queue.Queue
	cache  *cache.Manager
	poster *recordingPoster
	conn   *staticConn
	resume chan struct{}
}

func setup(t *testing.T, attach bool) *fixture {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	q := queue.New(store)
	manager := cache.NewManager(store, cache.Options{})
	mon := monitor.New()
	mon.Report.Run.Sessions.Inc()

	f := &fixture{
		store:  store,
		queue:  q,
		cache:  manager,
		poster: &recordingPoster{},
		conn:   &staticConn{},
		resume: make(chan struct{}, 1),
	}
	f.conn.online.Store(true)

	f.server = New(Options{
		Listen:   "127.0.0.1:0",
		Queue:    q,
		Cache:    manager,
		Monitor:  mon,
		Searcher: search.NewEngine(manager),
		Resume:   f.resume,
	})

	if attach {
		registry := dispatch.NewRegistry(f.poster)
		responses.Register(registry)

		opts := queue.DefaultProcessorOptions()
		opts.Sleep = func(context.Context, time.Duration) error { return nil }
		orch, err := orchestrator.New(orchestrator.Options{
			Queue:        q,
			Processor:    queue.NewProcessor(q, opts),
			Connectivity: f.conn,
			Session:      storage.NewMemorySession(),
			Send:         registry.Send,
		})
		require.NoError(t, err)

		f.server.Attach(&Session{
			Catalog: catalog.New(catalog.Options{
				Cache:  manager,
				Queue:  q,
				Router: registry,
				Online: f.conn.Online,
			}),
			Orchestrator: orch,
		})
	}
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	return w
}

const answerBody = `{"type":"submitResponse","payload":{"pollId":1,"questionId":2,"userId":3,"optionId":4}}`

func TestHealth(t *testing.T) {
	f := setup(t, false)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/health", "").Code)
}

func TestPostQueue_OfflineQueues(t *testing.T) {
	f := setup(t, true)
	f.conn.online.Store(false)

	w := f.do(http.MethodPost, "/v1/queue", answerBody)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var res catalog.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Queued)

	w = f.do(http.MethodGet, "/v1/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Pending int                  `json:"pending"`
		Items   []*storage.QueueItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Pending)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, res.ItemID, listing.Items[0].ID)
}

func TestPostQueue_OnlineDelivers(t *testing.T) {
	f := setup(t, true)

	w := f.do(http.MethodPost, "/v1/queue", answerBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int32(1), f.poster.posts.Load())
}

func TestPostQueue_BadRequests(t *testing.T) {
	f := setup(t, true)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/queue", `{"payload":{}}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/queue", `{"type":"nope","payload":{}}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/queue", `{"type":"submitResponse","payload":{"pollId":1}}`).Code)
}

func TestPostQueue_NoSession(t *testing.T) {
	f := setup(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/v1/queue", answerBody).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/v1/queue/process", "").Code)
}

func TestProcessQueue(t *testing.T) {
	f := setup(t, true)
	_, err := f.queue.Enqueue(responses.SubmitType, json.RawMessage(`{"pollId":1,"questionId":2,"response":"x"}`))
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/v1/queue/process", "")
	require.Equal(t, http.StatusOK, w.Code)

	var summary queue.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Sent)

	n, _ := f.queue.Count()
	assert.Equal(t, 0, n)
}

func TestResume(t *testing.T) {
	f := setup(t, false)

	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/v1/lifecycle/resume", "").Code)
	// a second request while one is pending does not block
	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/v1/lifecycle/resume", "").Code)
	assert.Len(t, f.resume, 1)
}

func TestPolls(t *testing.T) {
	f := setup(t, false)
	require.NoError(t, f.cache.SavePolls([]*storage.PollRecord{
		{PollID: 1, Title: "Team lunch"},
		{PollID: 2, Title: "Offsite"},
	}))
	require.NoError(t, f.store.Put(storage.Attachments, storage.ThumbnailKey(1), &storage.Attachment{
		ID: storage.ThumbnailKey(1), Blob: []byte("img"), MimeType: "image/png",
	}))

	w := f.do(http.MethodGet, "/v1/polls", "")
	require.Equal(t, http.StatusOK, w.Code)
	var polls []*cache.CachedPoll
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &polls))
	assert.Len(t, polls, 2)

	w = f.do(http.MethodGet, "/v1/polls/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Offsite")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/polls/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/polls/abc", "").Code)

	w = f.do(http.MethodGet, "/v1/polls/1/thumbnail", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "img", w.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/polls/2/thumbnail", "").Code)

	w = f.do(http.MethodGet, "/v1/search?q=lunch", "")
	require.Equal(t, http.StatusOK, w.Code)
	var results []*search.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].PollID)
}

func TestMetrics(t *testing.T) {
	f := setup(t, false)
	w := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pollsync_queue_pending")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	f := setup(t, false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/v1/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
