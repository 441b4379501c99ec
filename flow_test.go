package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/image-provider/internal/config"
	"github.com/any-hub/image-provider/internal/logging"
)

func newFlowServices(t *testing.T, cfg *config.Config) *services {
	t.Helper()
	if cfg.Global.UpstreamTimeout == 0 {
		cfg.Global.UpstreamTimeout = config.Duration(5 * time.Second)
	}
	if cfg.Global.CacheMonitorInterval == 0 {
		cfg.Global.CacheMonitorInterval = config.Duration(time.Minute)
	}
	svc, err := newServices(config.NewManager(cfg), logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("构建服务失败: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func getJSON(t *testing.T, app *fiber.App, target string, out interface{}) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", target, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", target, err)
	}
	return resp
}

func TestCachedFlowServesDownloadedImage(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"url":"` + base + `/img.jpg"}}`))
	})
	mux.HandleFunc("/img.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("cached-image-bytes"))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()
	base = upstream.URL

	svc := newFlowServices(t, &config.Config{
		Global: config.GlobalConfig{
			EnableLocalCache: true,
			LocalCachePath:   t.TempDir(),
			CacheSize:        2,
		},
		Sources: []config.SourceConfig{
			{ID: "waifu", URL: upstream.URL + "/api", Mode: config.ModeJSON, PathKeys: []string{"data", "url"}},
		},
	})
	if err := svc.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("refill failed: %v", err)
	}

	app, err := svc.newApp(5000)
	if err != nil {
		t.Fatalf("构建 app 失败: %v", err)
	}

	var random map[string]string
	getJSON(t, app, "http://img.local/api/imageprovider/random?sourceId=waifu", &random)
	link, err := url.Parse(random["url"])
	if err != nil || link.Path == "" {
		t.Fatalf("invalid link %q: %v", random["url"], err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", link.Path, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("跳转链接应直接返回本地文件，得到 %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "cached-image-bytes" {
		t.Fatalf("unexpected body: %s", string(body))
	}

	// 相同内容去重后两次入队指向同一文件，取走一个后仍剩一个。
	var diag struct {
		Sources []struct {
			ID     string `json:"id"`
			Queued int    `json:"queued"`
		} `json:"sources"`
	}
	getJSON(t, app, "/-/sources", &diag)
	if len(diag.Sources) != 1 || diag.Sources[0].Queued != 1 {
		t.Fatalf("unexpected diagnostics: %+v", diag.Sources)
	}
}

func TestUncachedByteFlowRedirects(t *testing.T) {
	svc := newFlowServices(t, &config.Config{
		Global: config.GlobalConfig{CacheSize: 5},
		Sources: []config.SourceConfig{
			{ID: "picsum", URL: "https://picsum.photos/800", Mode: config.ModeByte},
		},
	})
	app, err := svc.newApp(5000)
	if err != nil {
		t.Fatalf("构建 app 失败: %v", err)
	}

	var random map[string]string
	getJSON(t, app, "http://img.local/api/imageprovider/random", &random)
	link, err := url.Parse(random["url"])
	if err != nil {
		t.Fatalf("invalid link: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", link.Path, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusMovedPermanently {
		t.Fatalf("expected 301, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://picsum.photos/800" {
		t.Fatalf("unexpected Location: %s", loc)
	}
}
