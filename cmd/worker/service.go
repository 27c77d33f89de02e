package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const readinessTimeout = 5 * time.Second

type pingFunc func(context.Context) error

// dependency is something the worker must reach before it starts consuming.
type dependency struct {
	name string
	ping pingFunc
}

// loop is one long-running subscriber. It returns when ctx ends or the
// subscription fails.
type loop struct {
	name string
	run  func(context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies []dependency
	Loops        []loop
}

// Service runs the pub/sub consumers that turn order events into merchant
// alerts. The first loop to fail stops the others.
type Service struct {
	logg  *logger.Logger
	deps  []dependency
	loops []loop
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case len(params.Loops) == 0:
		return nil, errors.New("at least one consumer loop is required")
	}
	return &Service{logg: params.Logger, deps: params.Dependencies, loops: params.Loops}, nil
}

// checkReadiness pings every dependency and reports all failures at once.
func (s *Service) checkReadiness(ctx context.Context) error {
	var errs error
	for _, dep := range s.deps {
		pingCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		err := dep.ping(pingCtx)
		cancel()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s ping: %w", dep.name, err))
		}
	}
	return errs
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.checkReadiness(ctx); err != nil {
		s.logg.Error(ctx, "worker dependencies not ready", err)
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.loops {
		g.Go(func() error {
			loopCtx := s.logg.WithField(gctx, "consumer", l.name)
			err := l.run(loopCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(loopCtx, "consumer stopped unexpectedly", err)
				return fmt.Errorf("%s: %w", l.name, err)
			}
			return err
		})
	}
	return g.Wait()
}
