// Package metadata serves the single-record video metadata endpoint.
package metadata

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"tokgate/internal/api/util"
	"tokgate/internal/extractor"
	"tokgate/internal/tiktok"
)

type (
	Service interface {
		FetchMetadata(ctx context.Context, url string) (*extractor.VideoMetadata, error)
	}

	Controller struct {
		service Service
	}
)

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("", controller.get)
}

func (controller *Controller) get(ec echo.Context) error {
	url := ec.QueryParam("url")
	if url == "" {
		return util.Error(ec, http.StatusBadRequest, "Missing URL parameter", "Provide a TikTok video URL via the 'url' query parameter.")
	}
	if !tiktok.IsAcceptableURL(url) {
		return util.Error(ec, http.StatusBadRequest, "Invalid URL", "The URL provided is not a recognised TikTok video or short link.")
	}

	meta, err := controller.service.FetchMetadata(ec.Request().Context(), url)
	if err != nil {
		return util.ExtractionFailure(ec, "Extraction failed", err)
	}

	return ec.JSON(http.StatusOK, meta)
}
