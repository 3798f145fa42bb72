package aces

import (
	"context"
	"errors"
	"fmt"

	"github.com/ilya1470/aces/models"
	"github.com/ilya1470/aces/utils"
)

// ErrAcquisitionExhausted means every strategy in the cascade failed.
var ErrAcquisitionExhausted = errors.New("aces: acquisition exhausted")

// Strategy is one independent way of getting a file's bytes off the portal.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, filename string) ([]byte, error)
}

// Cascade tries its strategies in order and stops at the first that
// returns bytes.
type Cascade struct {
	strategies []Strategy
	logger     *utils.Logger
}

// NewCascade builds a cascade. Order matters: cheapest and most likely
// correct first.
func NewCascade(logger *utils.Logger, strategies ...Strategy) *Cascade {
	return &Cascade{strategies: strategies, logger: logger}
}

// Strategies returns the strategy names in the order they are tried.
func (c *Cascade) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Acquire returns the file's bytes from the first strategy that succeeds.
func (c *Cascade) Acquire(ctx context.Context, filename string) (models.AcquiredPayload, error) {
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return models.AcquiredPayload{}, err
		}

		c.logger.Info("[cascade] %s: trying %s (%d/%d)", filename, s.Name(), i+1, len(c.strategies))
		data, err := attempt(ctx, s, filename)
		if err != nil {
			c.logger.Warn("[cascade] %s: %s failed: %v", filename, s.Name(), err)
			continue
		}
		if len(data) == 0 {
			c.logger.Warn("[cascade] %s: %s returned no bytes", filename, s.Name())
			continue
		}

		c.logger.Info("[cascade] %s: downloaded %d bytes via %s", filename, len(data), s.Name())
		return models.AcquiredPayload{Filename: filename, Data: data, Strategy: s.Name()}, nil
	}
	return models.AcquiredPayload{}, fmt.Errorf("%w: %s after %d strategies", ErrAcquisitionExhausted, filename, len(c.strategies))
}

// attempt runs one strategy, turning a panic into an error so the cascade
// always moves on.
func attempt(ctx context.Context, s Strategy, filename string) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Acquire(ctx, filename)
}
