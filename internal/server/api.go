package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-provider/internal/cache"
	"github.com/any-hub/image-provider/internal/logging"
	"github.com/any-hub/image-provider/internal/provider"
)

// APIPrefix 是图片接口的公共前缀。
const APIPrefix = "/api/imageprovider"

var errImageMissing = errors.New("cached image no longer exists")

func registerImageRoutes(app *fiber.App, opts AppOptions) {
	api := app.Group(APIPrefix)

	// GET /random 返回 {"url": ...}，开启缓存时会阻塞直到队列中有可用图片。
	api.Get("/random", func(c fiber.Ctx) error {
		sourceID := strings.TrimSpace(c.Query("sourceId"))
		link, err := opts.Provider.RandomImageURL(c.Context(), sourceID, c.BaseURL())
		if err != nil {
			return renderError(c, opts.Logger, "random_url", err)
		}
		opts.Logger.WithFields(logrus.Fields{
			"action":     "random_url",
			"request_id": RequestID(c),
			"source_id":  sourceID,
			"url":        link,
		}).Debug("random url issued")
		return c.JSON(fiber.Map{"url": link})
	})

	// GET /image 直接返回图片：本地文件输出字节，远程地址 301 跳转。
	api.Get("/image", func(c fiber.Ctx) error {
		sourceID := strings.TrimSpace(c.Query("sourceId"))
		loc, err := opts.Provider.PickRandomImage(c.Context(), sourceID)
		if err != nil {
			return renderError(c, opts.Logger, "random_image", err)
		}
		return deliver(c, opts.Logger, "random_image", loc)
	})

	// GET /skip/:key 解析跳转 key，未知或过期返回 404。
	api.Get("/skip/:key", func(c fiber.Ctx) error {
		key := strings.TrimSpace(c.Params("key"))
		loc, err := opts.Provider.ResolveRedirect(key)
		if err != nil {
			return renderError(c, opts.Logger, "skip_resolve", err)
		}
		return deliver(c, opts.Logger, "skip_resolve", loc)
	})
}

func deliver(c fiber.Ctx, logger *logrus.Logger, action string, loc provider.Location) error {
	logger.WithFields(logging.DeliveryFields(action, RequestID(c), loc.URI, loc.IsLocal)).Debug("image delivered")

	if !loc.IsLocal {
		return c.Redirect().Status(fiber.StatusMovedPermanently).To(loc.URI)
	}
	if !cache.Exists(loc.URI) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "image_missing",
			"message": errImageMissing.Error(),
		})
	}
	return c.SendFile(loc.URI)
}
