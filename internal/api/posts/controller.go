// Package posts serves the profile listing endpoint. The caller may name
// the profile either by bare username or by full profile URL.
package posts

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
		ListProfilePosts(ctx context.Context, profileURL string) ([]extractor.ProfilePost, error)
	}

	Controller struct {
		service Service
	}

	listingDto struct {
		Profile string                  `json:"profile"`
		Count   int                     `json:"count"`
		Posts   []extractor.ProfilePost `json:"posts"`
	}
)

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("", controller.list)
}

func (controller *Controller) list(ec echo.Context) error {
	username := ec.QueryParam("username")
	profile := ec.QueryParam("profile")

	var profileURL string
	switch {
	case username != "":
		profileURL = tiktok.CanonicalProfileURL(username)
	case profile != "":
		if !tiktok.IsAcceptableURL(profile) {
			return util.Error(ec, http.StatusBadRequest, "Invalid URL", "The profile URL provided is not a recognised TikTok profile.")
		}

		handle, ok := tiktok.ExtractUsername(profile)
		if !ok {
			return util.Error(ec, http.StatusBadRequest, "Invalid URL", "The profile URL does not contain an @handle segment.")
		}

		username = handle
		profileURL = tiktok.CanonicalProfileURL(handle)
	default:
		return util.Error(ec, http.StatusBadRequest, "Missing parameter", "Provide a 'username' or a 'profile' query parameter.")
	}

	listing, err := controller.service.ListProfilePosts(ec.Request().Context(), profileURL)
	if err != nil {
		return util.ExtractionFailure(ec, "Extraction failed", err)
	}

	return ec.JSON(http.StatusOK, listingDto{
		Profile: username,
		Count:   len(listing),
		Posts:   listing,
	})
}
