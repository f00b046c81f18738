// Package transcripts serves the transcription endpoint, which chains a
// bounded download and a whisper invocation behind one JSON response.
package transcripts

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"tokgate/internal/api/util"
	"tokgate/internal/extractor"
	"tokgate/internal/tiktok"
)

type (
	Service interface {
		Transcribe(ctx context.Context, url string, model string) (*extractor.TranscriptionResult, error)
	}

	Controller struct {
		validate *validator.Validate
		service  Service
	}

	transcribeQuery struct {
		URL   string `query:"url" validate:"required"`
		Model string `query:"model" validate:"omitempty,oneof=tiny base small medium large"`
	}

	transcriptDto struct {
		URL                 string  `json:"url"`
		Transcript          string  `json:"transcript"`
		Language            string  `json:"language"`
		LanguageProbability float64 `json:"language_probability"`
		Duration            float64 `json:"duration"`
		Model               string  `json:"model"`
	}
)

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{validate: validate, service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("", controller.transcribe)
}

func (controller *Controller) transcribe(ec echo.Context) error {
	var query transcribeQuery
	if err := ec.Bind(&query); err != nil {
		return util.Error(ec, http.StatusBadRequest, "Invalid parameters", err.Error())
	}

	if err := controller.validate.Struct(query); err != nil {
		if query.URL == "" {
			return util.Error(ec, http.StatusBadRequest, "Missing URL parameter", "Provide a TikTok video URL via the 'url' query parameter.")
		}

		return util.Error(ec, http.StatusBadRequest, "Invalid model size", "Model must be one of: tiny, base, small, medium, large.")
	}

	if !tiktok.IsAcceptableURL(query.URL) {
		return util.Error(ec, http.StatusBadRequest, "Invalid URL", "The URL provided is not a recognised TikTok video or short link.")
	}

	if query.Model == "" {
		query.Model = "base"
	}

	result, err := controller.service.Transcribe(ec.Request().Context(), query.URL, query.Model)
	if err != nil {
		// The model is validated before dispatch, but the supervisor
		// double-checks; treat its rejection as a client error too.
		if errors.Is(err, extractor.ErrInvalidModel) {
			return util.Error(ec, http.StatusBadRequest, "Invalid model size", "Model must be one of: tiny, base, small, medium, large.")
		}

		return util.ExtractionFailure(ec, "Transcription failed", err)
	}

	return ec.JSON(http.StatusOK, transcriptDto{
		URL:                 query.URL,
		Transcript:          result.Transcript,
		Language:            result.Language,
		LanguageProbability: result.LanguageProbability,
		Duration:            result.Duration,
		Model:               query.Model,
	})
}
