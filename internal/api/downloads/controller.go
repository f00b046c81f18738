// Package downloads implements the streamed video download endpoint: the
// extraction tool's stdout pipe is relayed straight to the response with
// headers committed before the first body byte.
package downloads

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"tokgate/internal/api/util"
	"tokgate/internal/tiktok"
	"tokgate/pkg/logger"
)

var log = logger.Get("Downloads")

const copyBufferSize = 64 * 1024

type (
	Service interface {
		StreamVideo(ctx context.Context, url string) (io.ReadCloser, error)
	}

	Controller struct {
		service Service
	}
)

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("", controller.download)
}

func (controller *Controller) download(ec echo.Context) error {
	url := ec.QueryParam("url")
	if url == "" {
		return util.Error(ec, http.StatusBadRequest, "Missing URL parameter", "Provide a TikTok video URL via the 'url' query parameter.")
	}
	if !tiktok.IsAcceptableURL(url) {
		return util.Error(ec, http.StatusBadRequest, "Invalid URL", "The URL provided is not a recognised TikTok video or short link.")
	}

	stream, err := controller.service.StreamVideo(ec.Request().Context(), url)
	if err != nil {
		return util.ExtractionFailure(ec, "Extraction failed", err)
	}
	defer stream.Close()

	videoID, ok := tiktok.ExtractVideoID(url)
	if !ok {
		videoID = "video"
	}

	response := ec.Response()
	response.Header().Set(echo.HeaderContentType, "video/mp4")
	response.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="tiktok-%s.mp4"`, videoID))
	response.Header().Set("Accept-Ranges", "bytes")
	response.WriteHeader(http.StatusOK)

	// Once the first byte is written the response is committed; an upstream
	// failure from here on can only truncate the connection, never produce
	// an error body.
	buffer := make([]byte, copyBufferSize)
	for {
		n, readErr := stream.Read(buffer)
		if n > 0 {
			if _, writeErr := response.Write(buffer[:n]); writeErr != nil {
				// Client went away; closing the stream kills the process.
				log.Emit(logger.DEBUG, "Client disconnected mid-stream for '%s': %v\n", url, writeErr)
				return nil
			}
			response.Flush()
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			log.Emit(logger.WARNING, "Stream for '%s' ended abnormally: %v\n", url, readErr)
			return nil
		}
	}
}
