package images

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maleva/customer-portal/pkg/httpclient"
	"github.com/maleva/customer-portal/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockDoer struct{ mock.Mock }

func (m *mockDoer) Do(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*httpclient.Response)
	return resp, args.Error(1)
}

func forDirectory(dir string) interface{} {
	return mock.MatchedBy(func(r *httpclient.Request) bool {
		return r.Method == http.MethodPost &&
			r.Path == "/api/CommonApp/FetchImagesRecursive" &&
			r.Query.Get("ImageDirectory") == dir
	})
}

func newLookup(doer httpclient.Doer, cache storage.Store) *Lookup {
	return NewLookup(doer, cache, Config{CompanyRefID: "3", HostURL: "https://erp.example.mv/"}, zap.NewNop())
}

func TestFetchImages_CachesResult(t *testing.T) {
	ctx := context.Background()
	doer := &mockDoer{}
	doer.On("Do", mock.Anything, forDirectory("/Upload/3/SalesOrder/1042/")).
		Return(&httpclient.Response{Status: 200, Body: []byte(`["/Upload/3/SalesOrder/1042/a.jpg", "Upload/3/SalesOrder/1042/b.jpg"]`)}, nil).
		Once()

	cache := storage.NewMemory()
	l := newLookup(doer, cache)

	want := []string{
		"https://erp.example.mv/Upload/3/SalesOrder/1042/a.jpg",
		"https://erp.example.mv/Upload/3/SalesOrder/1042/b.jpg",
	}
	assert.Equal(t, want, l.FetchImages(ctx, "1042"))
	assert.Equal(t, want, l.FetchImages(ctx, "1042"))

	doer.AssertNumberOfCalls(t, "Do", 1)
	_, err := cache.Get(ctx, "order_images_1042")
	require.NoError(t, err)
}

func TestFetchImages_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	doer := &mockDoer{}
	doer.On("Do", mock.Anything, mock.Anything).
		Return(nil, &httpclient.NetworkError{Method: "POST", URL: "x", Err: errors.New("refused")}).Once()
	doer.On("Do", mock.Anything, mock.Anything).
		Return(&httpclient.Response{Status: 200, Body: []byte(`["/x.jpg"]`)}, nil).Once()

	l := newLookup(doer, storage.NewMemory())

	assert.Empty(t, l.FetchImages(ctx, "7"))
	assert.Equal(t, []string{"https://erp.example.mv/x.jpg"}, l.FetchImages(ctx, "7"))
	doer.AssertNumberOfCalls(t, "Do", 2)
}

func TestFetchImages_EmptyAndMalformedReplies(t *testing.T) {
	ctx := context.Background()
	for name, body := range map[string]string{
		"empty_array": `[]`,
		"null":        `null`,
		"envelope":    `{"IsSuccess": false}`,
	} {
		t.Run(name, func(t *testing.T) {
			doer := &mockDoer{}
			doer.On("Do", mock.Anything, mock.Anything).
				Return(&httpclient.Response{Status: 200, Body: []byte(body)}, nil)

			cache := storage.NewMemory()
			l := newLookup(doer, cache)

			got := l.FetchImages(ctx, "9")
			assert.NotNil(t, got)
			assert.Empty(t, got)

			keys, _ := cache.Keys(ctx, "order_images_")
			assert.Empty(t, keys)
		})
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	doer := &mockDoer{}
	doer.On("Do", mock.Anything, mock.Anything).
		Return(&httpclient.Response{Status: 200, Body: []byte(`["/a.jpg"]`)}, nil)

	l := newLookup(doer, storage.NewMemory())
	l.FetchImages(ctx, "1")
	require.NoError(t, l.Invalidate(ctx, "1"))
	l.FetchImages(ctx, "1")

	doer.AssertNumberOfCalls(t, "Do", 2)
}

func TestFetchImages_TTL(t *testing.T) {
	ctx := context.Background()
	doer := &mockDoer{}
	doer.On("Do", mock.Anything, mock.Anything).
		Return(&httpclient.Response{Status: 200, Body: []byte(`["/a.jpg"]`)}, nil)

	cache := storage.NewMemory()
	l := NewLookup(doer, cache, Config{CompanyRefID: "3", HostURL: "https://h", CacheTTL: 20 * time.Millisecond}, zap.NewNop())

	l.FetchImages(ctx, "1")
	time.Sleep(40 * time.Millisecond)
	l.FetchImages(ctx, "1")

	doer.AssertNumberOfCalls(t, "Do", 2)
}

func TestAbsolute(t *testing.T) {
	l := newLookup(&mockDoer{}, storage.NewMemory())
	assert.Equal(t, "https://cdn.example/x.png", l.absolute("https://cdn.example/x.png"))
	assert.Equal(t, "https://erp.example.mv/a/b.png", l.absolute("a/b.png"))
}

// gatedCache reports every image cache read so a test knows a caller is
// about to join the backend call.
type gatedCache struct {
	*storage.Memory
	reads chan string
}

func newGatedCache() *gatedCache {
	return &gatedCache{Memory: storage.NewMemory(), reads: make(chan string, 16)}
}

func (g *gatedCache) Get(ctx context.Context, key string) (string, error) {
	value, err := g.Memory.Get(ctx, key)
	if strings.HasPrefix(key, "order_images_") {
		g.reads <- key
	}
	return value, err
}

// blockingDoer answers image lookups once release is closed.
func blockingDoer(started chan<- context.Context, release <-chan struct{}) *mockDoer {
	doer := &mockDoer{}
	doer.On("Do", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			started <- args.Get(0).(context.Context)
			<-release
		}).
		Return(&httpclient.Response{Status: 200, Body: []byte(`["/Upload/3/SalesOrder/9/a.jpg"]`)}, nil)
	return doer
}

func TestFetchImages_ConcurrentLookupsShareOneCall(t *testing.T) {
	const callers = 5
	started := make(chan context.Context, callers)
	release := make(chan struct{})
	doer := blockingDoer(started, release)
	cache := newGatedCache()
	l := newLookup(doer, cache)

	results := make([][]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.FetchImages(context.Background(), "9")
		}(i)
	}

	for i := 0; i < callers; i++ {
		<-cache.reads
	}
	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	want := []string{"https://erp.example.mv/Upload/3/SalesOrder/9/a.jpg"}
	for i := range results {
		assert.Equal(t, want, results[i])
	}
	doer.AssertNumberOfCalls(t, "Do", 1)
}

func TestFetchImages_CancelledCallerDoesNotAffectOthers(t *testing.T) {
	started := make(chan context.Context, 4)
	release := make(chan struct{})
	doer := blockingDoer(started, release)
	cache := newGatedCache()
	l := newLookup(doer, cache)

	ctxA, cancelA := context.WithCancel(context.Background())
	resA := make(chan []string, 1)
	go func() { resA <- l.FetchImages(ctxA, "9") }()
	<-cache.reads
	callCtx := <-started

	resB := make(chan []string, 1)
	go func() { resB <- l.FetchImages(context.Background(), "9") }()
	<-cache.reads
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.Empty(t, <-resA)

	close(release)
	want := []string{"https://erp.example.mv/Upload/3/SalesOrder/9/a.jpg"}
	assert.Equal(t, want, <-resB)
	assert.NoError(t, callCtx.Err())

	var cached []string
	require.NoError(t, storage.GetJSON(context.Background(), cache, CacheKey("9"), &cached))
	assert.Equal(t, want, cached)
	doer.AssertNumberOfCalls(t, "Do", 1)
}
