package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/cli"
	"github.com/limiquantix/placement/internal/domain"
)

// Reporter keeps one host's registry entry up to date.
type Reporter struct {
	client   *cli.Client
	sampler  Sampler
	hostID   string
	interval time.Duration
	logger   *zap.Logger
}

// NewReporter creates a reporter for hostID.
func NewReporter(client *cli.Client, sampler Sampler, hostID string, interval time.Duration, logger *zap.Logger) *Reporter {
	return &Reporter{
		client:   client,
		sampler:  sampler,
		hostID:   hostID,
		interval: interval,
		logger:   logger.With(zap.String("component", "host-agent"), zap.String("host_id", hostID)),
	}
}

// Register adds the host to the registry with a fresh sample. A host that is
// already registered gets its status refreshed instead.
func (r *Reporter) Register(ctx context.Context) error {
	_, err := r.register(ctx)
	return err
}

func (r *Reporter) register(ctx context.Context) (Usage, error) {
	usage, err := r.sampler.Sample(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("sample usage: %w", err)
	}

	_, err = r.client.RegisterHost(ctx, r.hostID, usage.CPUPercent, usage.RAMPercent, domain.HostStatusActive)
	if err == nil {
		r.logger.Info("Host registered",
			zap.Float64("cpu_usage", usage.CPUPercent),
			zap.Float64("ram_usage", usage.RAMPercent),
		)
		return usage, nil
	}
	if !cli.IsStatus(err, http.StatusConflict) {
		return Usage{}, fmt.Errorf("register host: %w", err)
	}

	r.logger.Info("Host already registered, reporting status")
	return usage, r.report(ctx, usage, domain.HostStatusActive)
}

// Run reports usage every interval until ctx is cancelled, then marks the
// host inactive. Failed reports are logged and retried on the next tick.
func (r *Reporter) Run(ctx context.Context) error {
	last, err := r.register(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.deactivate(last)
		case <-ticker.C:
			usage, err := r.sampler.Sample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return r.deactivate(last)
				}
				r.logger.Warn("Failed to sample usage", zap.Error(err))
				continue
			}
			last = usage
			if err := r.report(ctx, usage, domain.HostStatusActive); err != nil {
				if errors.Is(err, context.Canceled) {
					return r.deactivate(last)
				}
				r.logger.Warn("Failed to report status", zap.Error(err))
			}
		}
	}
}

func (r *Reporter) report(ctx context.Context, usage Usage, status domain.HostStatus) error {
	_, err := r.client.UpdateHost(ctx, r.hostID, usage.CPUPercent, usage.RAMPercent, status)
	if err != nil {
		return fmt.Errorf("update host: %w", err)
	}
	r.logger.Debug("Status reported",
		zap.Float64("cpu_usage", usage.CPUPercent),
		zap.Float64("ram_usage", usage.RAMPercent),
		zap.String("status", string(status)),
	)
	return nil
}

func (r *Reporter) deactivate(last Usage) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.report(ctx, last, domain.HostStatusInactive); err != nil {
		return fmt.Errorf("mark host inactive: %w", err)
	}
	r.logger.Info("Host marked inactive")
	return nil
}
