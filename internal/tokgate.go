// Package internal composes the gateway: the rate limiter, the extraction
// process supervisor, and the REST gateway that fronts them.
package internal

import (
	"context"
	"sync"

	"tokgate/internal/api"
	"tokgate/internal/extractor"
	"tokgate/internal/limiter"
	"tokgate/pkg/logger"
)

var log = logger.Get("Core")

type (
	// RunnableService is a long-lived component which runs until its
	// context is cancelled.
	RunnableService interface {
		Run(context.Context) error
	}
)

// Tokgate is the top-level object for the gateway, responsible for
// constructing its services and supervising their lifetimes.
type Tokgate struct {
	config      TokgateConfig
	limiter     *limiter.Limiter
	extractor   *extractor.Extractor
	restGateway RunnableService
}

func New(config TokgateConfig) *Tokgate {
	log.Emit(logger.DEBUG, "Bootstrapping gateway services using config: %#v\n", config)

	admission := limiter.New(config.Limiter)
	supervisor := extractor.New(config.Extractor)

	return &Tokgate{
		config:      config,
		limiter:     admission,
		extractor:   supervisor,
		restGateway: api.NewRestGateway(&config.Rest, admission, supervisor),
	}
}

// Run brings up the REST gateway and the rate limit sweep, blocking until
// the context is cancelled or a service fails. The first failure cancels
// every other service.
func (tokgate *Tokgate) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	defer ctxCancel(nil)

	wg := &sync.WaitGroup{}
	for _, service := range []RunnableService{tokgate.limiter, tokgate.restGateway} {
		service := service
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := service.Run(ctx); err != nil {
				ctxCancel(err)
			}
		}()
	}

	wg.Wait()

	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
