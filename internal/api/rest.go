package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"tokgate/internal/api/downloads"
	"tokgate/internal/api/metadata"
	"tokgate/internal/api/posts"
	"tokgate/internal/api/transcripts"
	"tokgate/internal/api/util"
	"tokgate/pkg/logger"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"HOST_ADDR" env-default:"0.0.0.0"`
		HostPort string `yaml:"port" env:"HOST_PORT" env-default:"3347"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// extractorService is the union of every controller's supervisor
	// requirement; the extractor satisfies all of them.
	extractorService interface {
		downloads.Service
		metadata.Service
		posts.Service
		transcripts.Service
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its
	// sole responsibility is to create the routes the gateway exposes and
	// to enforce admission control in front of the costly ones.
	RestGateway struct {
		config                *RestConfig
		ec                    *echo.Echo
		downloadController    controller
		metadataController    controller
		postsController       controller
		transcriptsController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with the
// gateway's routes. Every route that spawns a subprocess sits behind the
// admission middleware; /health does not.
func NewRestGateway(config *RestConfig, admitter util.Admitter, extractor extractorService) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	// Anything a handler did not convert to the envelope itself lands
	// here; internal detail is logged but never leaked to the client.
	ec.HTTPErrorHandler = func(err error, ctx echo.Context) {
		if ctx.Response().Committed {
			return
		}

		if httpErr, ok := err.(*echo.HTTPError); ok {
			_ = util.Error(ctx, httpErr.Code, http.StatusText(httpErr.Code), fmt.Sprintf("%v", httpErr.Message))
			return
		}

		log.Emit(logger.ERROR, "Unhandled error serving %s %s: %v\n", ctx.Request().Method, ctx.Path(), err)
		_ = util.Error(ctx, http.StatusInternalServerError, "Internal server error", "An unexpected error occurred.")
	}

	gateway := &RestGateway{
		config:                config,
		ec:                    ec,
		downloadController:    downloads.New(extractor),
		metadataController:    metadata.New(extractor),
		postsController:       posts.New(extractor),
		transcriptsController: transcripts.New(validator.New(), extractor),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())

	ec.GET("/health", health)

	admitted := util.RateLimited(admitter)
	gateway.downloadController.SetRoutes(ec.Group("/download", admitted))
	gateway.metadataController.SetRoutes(ec.Group("/metadata", admitted))
	gateway.postsController.SetRoutes(ec.Group("/user-posts", admitted))
	gateway.transcriptsController.SetRoutes(ec.Group("/transcribe", admitted))

	return gateway
}

func health(ec echo.Context) error {
	return ec.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ServeHTTP exposes the gateway as a standard http.Handler, primarily so
// it can be driven directly without binding a listener.
func (gateway *RestGateway) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	gateway.ec.ServeHTTP(writer, request)
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	addr := net.JoinHostPort(gateway.config.HostAddr, gateway.config.HostPort)
	log.Emit(logger.INFO, "Gateway listening on %s\n", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(addr); err != nil && err != http.ErrServerClosed {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
