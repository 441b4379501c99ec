package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/any-hub/image-provider/internal/cache"
	"github.com/any-hub/image-provider/internal/config"
	"github.com/any-hub/image-provider/internal/logging"
	"github.com/any-hub/image-provider/internal/skip"
	"github.com/any-hub/image-provider/internal/source"
	"github.com/any-hub/image-provider/internal/upstream"
)

type fixture struct {
	svc    *Service
	queues *cache.QueueStore
	skips  *skip.Service
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	if cfg.Global.UpstreamTimeout == 0 {
		cfg.Global.UpstreamTimeout = config.Duration(5 * time.Second)
	}
	queues := cache.NewQueueStore()
	t.Cleanup(queues.Close)
	skips := skip.NewService(nil)
	t.Cleanup(skips.Close)

	svc, err := New(Options{
		Settings: config.NewManager(cfg),
		Resolver: source.NewResolver(upstream.NewPool(cfg.Global)),
		Queues:   queues,
		Consumer: cache.NewConsumer(queues, nil),
		Skips:    skips,
		Logger:   logging.NewDiscardLogger(),
	})
	require.NoError(t, err)
	return &fixture{svc: svc, queues: queues, skips: skips}
}

func keyFromLink(t *testing.T, link string) string {
	t.Helper()
	idx := strings.Index(link, skip.PathPrefix)
	require.GreaterOrEqual(t, idx, 0, "链接格式错误: %s", link)
	return link[idx+len(skip.PathPrefix):]
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestRandomImageURLNoSources(t *testing.T) {
	f := newFixture(t, &config.Config{})

	_, err := f.svc.RandomImageURL(context.Background(), "", "http://localhost")
	require.True(t, errors.Is(err, ErrNoSources))
	require.True(t, source.IsConfiguration(err))
}

func TestRandomImageURLUnknownSource(t *testing.T) {
	f := newFixture(t, &config.Config{Sources: []config.SourceConfig{
		{ID: "picsum", URL: "https://picsum.photos/800", Mode: config.ModeByte},
	}})

	_, err := f.svc.RandomImageURL(context.Background(), "missing", "http://localhost")
	require.True(t, errors.Is(err, ErrSourceNotFound))
	require.True(t, source.IsConfiguration(err))
}

func TestRandomImageURLByteSourceIssuesRemoteSkip(t *testing.T) {
	f := newFixture(t, &config.Config{Sources: []config.SourceConfig{
		{ID: "picsum", URL: "https://picsum.photos/800", Mode: config.ModeByte},
	}})

	link, err := f.svc.RandomImageURL(context.Background(), "picsum", "http://localhost:5000")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "http://localhost:5000"+skip.PathPrefix), link)

	loc, err := f.svc.ResolveRedirect(keyFromLink(t, link))
	require.NoError(t, err)
	require.Equal(t, Location{URI: "https://picsum.photos/800"}, loc)
}

func TestRandomImageURLLocalSourceIssuesLocalSkip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(file, []byte("png"), 0o644))

	f := newFixture(t, &config.Config{Sources: []config.SourceConfig{
		{ID: "wallpapers", URL: dir, Mode: config.ModeLocal},
	}})

	link, err := f.svc.RandomImageURL(context.Background(), "wallpapers", "http://localhost")
	require.NoError(t, err)

	loc, err := f.svc.ResolveRedirect(keyFromLink(t, link))
	require.NoError(t, err)
	require.True(t, loc.IsLocal)
	require.Equal(t, file, loc.URI)
}

func TestRandomImageURLJSONSourceReturnsResolvedURL(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"url":"https://x/y.jpg"}}`))
	}))
	defer upstreamSrv.Close()

	f := newFixture(t, &config.Config{Sources: []config.SourceConfig{
		{ID: "waifu", URL: upstreamSrv.URL, Mode: config.ModeJSON, PathKeys: []string{"data", "url"}},
	}})

	link, err := f.svc.RandomImageURL(context.Background(), "waifu", "http://localhost")
	require.NoError(t, err)
	require.Equal(t, "https://x/y.jpg", link)
	require.Zero(t, f.skips.Len(), "json 图源不应签发跳转")
}

func TestRandomImageURLCacheEnabledUsesQueue(t *testing.T) {
	cached := filepath.ToSlash(filepath.Join(t.TempDir(), "abc.jpg"))
	require.NoError(t, os.WriteFile(filepath.FromSlash(cached), []byte("jpg"), 0o644))

	f := newFixture(t, &config.Config{
		Global: config.GlobalConfig{
			EnableLocalCache: true,
			PublicBaseURL:    "https://img.example.com",
		},
		Sources: []config.SourceConfig{
			{ID: "waifu", URL: "https://api.example.com", Mode: config.ModeJSON},
		},
	})
	q, _ := f.queues.Ensure("waifu")
	q.Enqueue(cached)

	link, err := f.svc.RandomImageURL(context.Background(), "waifu", "http://ignored")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "https://img.example.com"+skip.PathPrefix), link)

	loc, err := f.svc.ResolveRedirect(keyFromLink(t, link))
	require.NoError(t, err)
	require.Equal(t, Location{URI: cached, IsLocal: true}, loc)
}

func TestRandomImageURLCacheEnabledHonorsDeadline(t *testing.T) {
	f := newFixture(t, &config.Config{
		Global: config.GlobalConfig{EnableLocalCache: true},
		Sources: []config.SourceConfig{
			{ID: "waifu", URL: "https://api.example.com", Mode: config.ModeJSON},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := f.svc.RandomImageURL(ctx, "waifu", "http://localhost")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPickRandomImageByMode(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "only.webp")
	require.NoError(t, os.WriteFile(file, []byte("webp"), 0o644))

	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"https://x/from-json.jpg"}`))
	}))
	defer upstreamSrv.Close()

	f := newFixture(t, &config.Config{Sources: []config.SourceConfig{
		{ID: "wallpapers", URL: dir, Mode: config.ModeLocal},
		{ID: "picsum", URL: "https://picsum.photos/800", Mode: config.ModeByte},
		{ID: "waifu", URL: upstreamSrv.URL, Mode: config.ModeJSON, PathKeys: []string{"url"}},
	}})

	loc, err := f.svc.PickRandomImage(context.Background(), "wallpapers")
	require.NoError(t, err)
	require.Equal(t, Location{URI: file, IsLocal: true, SourceID: "wallpapers"}, loc)

	loc, err = f.svc.PickRandomImage(context.Background(), "picsum")
	require.NoError(t, err)
	require.Equal(t, Location{URI: "https://picsum.photos/800", SourceID: "picsum"}, loc)

	loc, err = f.svc.PickRandomImage(context.Background(), "waifu")
	require.NoError(t, err)
	require.Equal(t, Location{URI: "https://x/from-json.jpg", SourceID: "waifu"}, loc)
}

func TestPickRandomImageCacheEnabled(t *testing.T) {
	cached := filepath.ToSlash(filepath.Join(t.TempDir(), "abc.jpg"))
	require.NoError(t, os.WriteFile(filepath.FromSlash(cached), []byte("jpg"), 0o644))

	f := newFixture(t, &config.Config{
		Global: config.GlobalConfig{EnableLocalCache: true},
		Sources: []config.SourceConfig{
			{ID: "picsum", URL: "https://picsum.photos/800", Mode: config.ModeByte},
		},
	})
	q, _ := f.queues.Ensure("picsum")
	q.Enqueue(cached)

	loc, err := f.svc.PickRandomImage(context.Background(), "picsum")
	require.NoError(t, err)
	require.Equal(t, Location{URI: cached, IsLocal: true, SourceID: "picsum"}, loc)
}

func TestPickRandomImageEmptyIDChoosesRandomSource(t *testing.T) {
	f := newFixture(t, &config.Config{Sources: []config.SourceConfig{
		{ID: "a", URL: "https://a.example.com", Mode: config.ModeByte},
		{ID: "b", URL: "https://b.example.com", Mode: config.ModeByte},
	}})
	f.svc.intN = func(n int) int { return n - 1 }

	loc, err := f.svc.PickRandomImage(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "b", loc.SourceID)
}

func TestResolveRedirectUnknownKey(t *testing.T) {
	f := newFixture(t, &config.Config{})

	_, err := f.svc.ResolveRedirect("nope")
	require.True(t, errors.Is(err, skip.ErrNotFound))
}

func TestSourcesReportsQueueDepth(t *testing.T) {
	f := newFixture(t, &config.Config{Sources: []config.SourceConfig{
		{ID: "waifu", URL: "https://api.example.com", Mode: config.ModeJSON, Category: "anime"},
		{ID: "picsum", URL: "https://picsum.photos/800", Mode: config.ModeByte},
	}})
	q, _ := f.queues.Ensure("waifu")
	q.Enqueue("/tmp/a.jpg")
	q.Enqueue("/tmp/b.jpg")

	statuses := f.svc.Sources()
	require.Len(t, statuses, 2)
	require.Equal(t, SourceStatus{ID: "waifu", Category: "anime", Mode: config.ModeJSON, URL: "https://api.example.com", Queued: 2}, statuses[0])
	require.Equal(t, config.UncategorizedDirName, statuses[1].Category)
	require.Equal(t, -1, statuses[1].Queued)
}
