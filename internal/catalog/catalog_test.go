package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/pders01/pollsync/internal/api"
	"github.com/pders01/pollsync/internal/cache"
	"github.com/pders01/pollsync/internal/dispatch"
	"github.com/pders01/pollsync/internal/dispatch/responses"
	"github.com/pders01/pollsync/internal/monitor"
	"github.com/pders01/pollsync/internal/queue"
	"github.com/pders01/pollsync/internal/storage"
	"github.com/pders01/pollsync/internal/validation"
)

// fakeAPI is a small stand-in for the survey API.
type fakeAPI struct {
	srv       *httptest.Server
	down      atomic.Bool
	posts     atomic.Int32
	listCalls atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("/polls", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Inc()
		if f.down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		thumb := f.srv.URL + "/thumbs/1.png"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "title": "Lunch", "thumbnailUrl": thumb},
			{"id": 2, "title": "Offsite"},
			{"title": "no id"},
		})
	})
	mux.HandleFunc("/polls/", func(w http.ResponseWriter, r *http.Request) {
		if f.down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/polls/")
		if id == "404" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":` + id + `,"title":"Detail ` + id + `"}`))
	})
	mux.HandleFunc("/thumbs/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/responses", func(w http.ResponseWriter, r *http.Request) {
		if f.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		f.posts.Inc()
		w.WriteHeader(http.StatusCreated)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

type fixture struct {
	catalog *Catalog
	cache   *cache.Manager
	queue   *queue.Queue
	api     *fakeAPI
	online  *atomic.Bool
	report  *monitor.Report
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fake := newFakeAPI(t)
	client := api.NewClient(api.Options{BaseURL: fake.srv.URL, Timeout: 5 * time.Second})

	manager := cache.NewManager(store, cache.Options{
		Fetcher:   client,
		Validator: validation.NewPermissiveURLValidator(),
	})
	registry := dispatch.NewRegistry(client)
	responses.Register(registry)

	online := atomic.NewBool(true)
	report := &monitor.Report{}
	q := queue.New(store)
	c := New(Options{
		Source:  client,
		Cache:   manager,
		Queue:   q,
		Router:  registry,
		Online:  online.Load,
		Workers: 2,
		Report:  report,
	})
	return &fixture{catalog: c, cache: manager, queue: q, api: fake, online: online, report: report}
}

func answer() responses.Answer {
	opt := int64(3)
	return responses.Answer{PollID: 1, QuestionID: 2, UserID: 9, OptionID: &opt}
}

func TestRefresh(t *testing.T) {
	f := setup(t)

	n, err := f.catalog.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "records without an id are skipped")

	f.catalog.Close()

	blob, ok := f.cache.GetThumbnailBlob(1)
	require.True(t, ok)
	assert.Equal(t, []byte("png-bytes"), blob)

	assert.Equal(t, uint64(1), f.report.Cache.CatalogRefreshes.Load())
	assert.Equal(t, int64(2), f.report.Cache.PollsCached.Load())
}

func TestRefresh_AfterCloseSkipsThumbnails(t *testing.T) {
	f := setup(t)
	f.catalog.Close()
	f.catalog.Close()

	n, err := f.catalog.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := f.cache.GetThumbnailBlob(1)
	assert.False(t, ok)
}

func TestClose_WhileRefreshing(t *testing.T) {
	f := setup(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotPanics(t, func() { _, _ = f.catalog.Refresh(context.Background()) })
		}()
	}
	f.catalog.Close()
	wg.Wait()
}

func TestRefresh_Failure(t *testing.T) {
	f := setup(t)
	f.api.down.Store(true)

	_, err := f.catalog.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, uint64(1), f.report.Cache.RefreshFailures.Load())
}

func TestList_OfflineServesCache(t *testing.T) {
	f := setup(t)
	_, err := f.catalog.Refresh(context.Background())
	require.NoError(t, err)

	f.online.Store(false)
	calls := f.api.listCalls.Load()

	polls := f.catalog.List(context.Background())
	assert.Len(t, polls, 2)
	assert.Equal(t, calls, f.api.listCalls.Load(), "no network while offline")
}

func TestList_FailedRefreshFallsBack(t *testing.T) {
	f := setup(t)
	_, err := f.catalog.Refresh(context.Background())
	require.NoError(t, err)

	f.api.down.Store(true)
	polls := f.catalog.List(context.Background())
	assert.Len(t, polls, 2)
}

func TestGet(t *testing.T) {
	f := setup(t)

	poll, err := f.catalog.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "Detail 5", poll.Title)

	// a fresh copy is now served from the cache, even offline
	f.online.Store(false)
	poll, err = f.catalog.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), poll.PollID)

	_, err = f.catalog.Get(context.Background(), 6)
	assert.ErrorIs(t, err, ErrPollNotFound)

	f.online.Store(true)
	_, err = f.catalog.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestSubmit_OnlineDelivers(t *testing.T) {
	f := setup(t)

	res, err := f.catalog.Submit(context.Background(), responses.SubmitType, answer())
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, int32(1), f.api.posts.Load())

	n, _ := f.queue.Count()
	assert.Equal(t, 0, n)
}

func TestSubmit_OfflineQueues(t *testing.T) {
	f := setup(t)
	f.online.Store(false)

	res, err := f.catalog.Submit(context.Background(), responses.SubmitType, answer())
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.NotEmpty(t, res.ItemID)
	assert.Equal(t, int32(0), f.api.posts.Load())

	item, err := f.queue.Get(res.ItemID)
	require.NoError(t, err)
	assert.Equal(t, responses.SubmitType, item.Type)
	assert.JSONEq(t, `{"pollId":1,"questionId":2,"userId":9,"optionId":3,"response":""}`, string(item.Payload))
	assert.Equal(t, uint64(1), f.report.Queue.Enqueued.Load())
	assert.Equal(t, int64(1), f.report.Queue.Pending.Load())
}

func TestSubmit_FailedDeliveryQueues(t *testing.T) {
	f := setup(t)
	f.api.down.Store(true)

	res, err := f.catalog.Submit(context.Background(), responses.SubmitType, answer())
	require.NoError(t, err)
	assert.True(t, res.Queued)

	n, _ := f.queue.Count()
	assert.Equal(t, 1, n)
}

func TestSubmit_RejectsInvalid(t *testing.T) {
	f := setup(t)

	_, err := f.catalog.Submit(context.Background(), responses.SubmitType, responses.Answer{PollID: 1})
	assert.Error(t, err)

	_, err = f.catalog.Submit(context.Background(), "deletePoll", map[string]any{})
	assert.ErrorIs(t, err, dispatch.ErrUnknownType)

	n, _ := f.queue.Count()
	assert.Equal(t, 0, n)
}

func TestPrune(t *testing.T) {
	f := setup(t)
	_, err := f.catalog.Refresh(context.Background())
	require.NoError(t, err)

	removed, err := f.catalog.Prune(30)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "freshly fetched polls are kept")
	assert.Equal(t, int64(2), f.report.Cache.PollsCached.Load())
}
