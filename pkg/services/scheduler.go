package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/skein-ai/skein-engine/pkg/models"
	"github.com/skein-ai/skein-engine/pkg/repositories"
)

// JobKind identifies a scheduled job.
type JobKind string

// JobKindMaintenance is the periodic maintenance job: expiration sweep,
// generation pass, and configured auto-approval per integration.
const JobKindMaintenance JobKind = "maintenance"

// JobHandler runs one scheduled job invocation.
type JobHandler func(ctx context.Context) error

// Scheduler runs registered jobs on a fixed interval. Handlers are passed at
// construction; there is no global registry and no registration after start.
type Scheduler struct {
	interval time.Duration
	handlers map[JobKind]JobHandler
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler creates a Scheduler with an explicit job registry.
func NewScheduler(interval time.Duration, handlers map[JobKind]JobHandler, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		handlers: handlers,
		logger:   logger.Named("scheduler"),
	}
}

// Start launches the ticker loop. Jobs also run once immediately.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.RunAll(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunAll(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for any running jobs to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// RunAll runs every registered job once, in stable kind order. Job failures
// are logged and never abort the other jobs.
func (s *Scheduler) RunAll(ctx context.Context) {
	kinds := make([]string, 0, len(s.handlers))
	for kind := range s.handlers {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		if ctx.Err() != nil {
			return
		}
		if err := s.handlers[JobKind(kind)](ctx); err != nil {
			s.logger.Error("scheduled job failed",
				zap.String("job_kind", kind),
				zap.Error(err))
		}
	}
}

// maintenancePass is the slice of the lifecycle manager the maintenance job
// drives.
type maintenancePass interface {
	GenerateForIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) ([]*models.MaintenanceProposal, error)
	BatchApprove(ctx context.Context, integrationID uuid.UUID, maxSeverity string) (*BatchApproveResult, error)
}

// MaintenanceJobDeps holds the dependencies for MaintenanceJob.
type MaintenanceJobDeps struct {
	Targets   repositories.MaintenanceTargetRepository
	Scopes    TenantScopeOpener
	Lifecycle maintenancePass
	Logger    *zap.Logger
}

// MaintenanceJob visits every maintenance-enabled integration: expiration
// sweep plus generation pass (both inside GenerateForIntegration), then
// auto-approval of info-level proposals where configured.
type MaintenanceJob struct {
	targets   repositories.MaintenanceTargetRepository
	scopes    TenantScopeOpener
	lifecycle maintenancePass
	logger    *zap.Logger
}

// NewMaintenanceJob creates a new MaintenanceJob.
func NewMaintenanceJob(deps MaintenanceJobDeps) *MaintenanceJob {
	return &MaintenanceJob{
		targets:   deps.Targets,
		scopes:    deps.Scopes,
		lifecycle: deps.Lifecycle,
		logger:    deps.Logger,
	}
}

// Run executes one maintenance pass over all enabled integrations.
// Per-integration failures are logged and do not stop the pass.
func (j *MaintenanceJob) Run(ctx context.Context) error {
	targets, err := j.targets.ListEnabled(ctx)
	if err != nil {
		return err
	}

	for _, target := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		j.runTarget(ctx, target)
	}

	return nil
}

func (j *MaintenanceJob) runTarget(ctx context.Context, target models.MaintenanceTarget) {
	tenantCtx, cleanup, err := j.scopes.WithTenantScope(ctx, target.TenantID)
	if err != nil {
		j.logger.Warn("maintenance job could not open tenant scope",
			zap.String("tenant_id", target.TenantID.String()),
			zap.Error(err))
		return
	}
	defer cleanup()

	created, err := j.lifecycle.GenerateForIntegration(tenantCtx, target.TenantID, target.IntegrationID)
	if err != nil {
		j.logger.Warn("generation pass failed",
			zap.String("integration_id", target.IntegrationID.String()),
			zap.Error(err))
		return
	}
	if len(created) > 0 {
		j.logger.Info("generation pass created proposals",
			zap.String("integration_id", target.IntegrationID.String()),
			zap.Int("count", len(created)))
	}

	if !target.AutoApproveInfoLevel {
		return
	}

	result, err := j.lifecycle.BatchApprove(tenantCtx, target.IntegrationID, models.SeverityInfo)
	if err != nil {
		j.logger.Warn("auto-approval failed",
			zap.String("integration_id", target.IntegrationID.String()),
			zap.Error(err))
		return
	}
	if result.Approved > 0 || result.Failed > 0 {
		j.logger.Info("auto-approved info-level proposals",
			zap.String("integration_id", target.IntegrationID.String()),
			zap.Int("approved", result.Approved),
			zap.Int("failed", result.Failed))
	}
}
