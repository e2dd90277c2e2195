package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Failover tries a fixed ordered list of backends and returns the
// first successful completion. Later backends are only consulted when
// an earlier one fails.
type Failover struct {
	backends []Client
	logger   *slog.Logger
}

func NewFailover(logger *slog.Logger, backends ...Client) (*Failover, error) {
	filtered := make([]Client, 0, len(backends))
	for _, backend := range backends {
		if backend != nil {
			filtered = append(filtered, backend)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	return &Failover{backends: filtered, logger: logger}, nil
}

func (f *Failover) Generate(ctx context.Context, req Request) (Result, error) {
	var errs []error
	for _, backend := range f.backends {
		result, err := backend.Generate(ctx, req)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if f.logger != nil {
			f.logger.WarnContext(ctx, "generation backend failed",
				slog.String("error", err.Error()),
			)
		}
		errs = append(errs, err)
	}
	return Result{}, fmt.Errorf("all generation backends failed: %w", errors.Join(errs...))
}
