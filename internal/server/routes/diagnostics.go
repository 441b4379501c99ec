package routes

import (
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/image-provider/internal/metrics"
	"github.com/any-hub/image-provider/internal/provider"
)

// SourceLister 返回图源及队列状态，provider.Service 满足该接口。
type SourceLister interface {
	Sources() []provider.SourceStatus
}

// RegisterDiagnosticsRoutes 暴露 /-/sources 与 /-/metrics 诊断接口，供 SRE 查询图源与队列水位。
func RegisterDiagnosticsRoutes(app *fiber.App, sources SourceLister, m *metrics.Metrics) {
	if app == nil {
		return
	}

	if sources != nil {
		app.Get("/-/sources", func(c fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"sources": encodeSources(sources.Sources()),
			})
		})
	}

	if m != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}

type sourcePayload struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Mode     string `json:"mode"`
	URL      string `json:"url"`
	Queued   int    `json:"queued"`
	Ready    bool   `json:"ready"`
}

func encodeSources(statuses []provider.SourceStatus) []sourcePayload {
	if len(statuses) == 0 {
		return nil
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ID < statuses[j].ID
	})
	result := make([]sourcePayload, 0, len(statuses))
	for _, status := range statuses {
		result = append(result, sourcePayload{
			ID:       status.ID,
			Category: status.Category,
			Mode:     string(status.Mode),
			URL:      status.URL,
			Queued:   status.Queued,
			Ready:    status.Queued > 0,
		})
	}
	return result
}
