package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skein-ai/skein-engine/pkg/apperrors"
	"github.com/skein-ai/skein-engine/pkg/database"
	"github.com/skein-ai/skein-engine/pkg/models"
	"github.com/skein-ai/skein-engine/pkg/repositories"
)

// AffectedToolFinder resolves the tools depending on an action.
type AffectedToolFinder interface {
	FindAffectedTools(ctx context.Context, action *models.Action) ([]models.AffectedTool, error)
}

// SuggestionGenerator computes and stores description suggestions for an
// approved proposal.
type SuggestionGenerator interface {
	GenerateAndStore(ctx context.Context, proposal *models.MaintenanceProposal) error
}

// TenantScopeOpener opens tenant-scoped contexts for background work that
// outlives the request which triggered it.
type TenantScopeOpener interface {
	WithTenantScope(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error)
}

// ProposalLifecycleDeps holds the dependencies for ProposalLifecycleManager.
type ProposalLifecycleDeps struct {
	Proposals    repositories.MaintenanceProposalRepository
	DriftReports repositories.DriftReportRepository
	Actions      repositories.ActionRepository
	Configs      repositories.MaintenanceConfigRepository
	Resolver     AffectedToolFinder
	Cascade      SuggestionGenerator
	Tx           database.TxManager
	Scopes       TenantScopeOpener
	Rescrape     RescrapeTrigger
	Logger       *zap.Logger

	// ListLimit caps proposals loaded per sweep or batch operation. Defaults
	// to 500.
	ListLimit int
}

// ProposalLifecycleManager owns the proposal state machine: creation with
// conflict detection, atomic approval and revert, rejection, staleness
// expiration, batch approval, and the per-integration generation pass.
type ProposalLifecycleManager struct {
	proposals    repositories.MaintenanceProposalRepository
	driftReports repositories.DriftReportRepository
	actions      repositories.ActionRepository
	configs      repositories.MaintenanceConfigRepository
	resolver     AffectedToolFinder
	cascade      SuggestionGenerator
	tx           database.TxManager
	scopes       TenantScopeOpener
	rescrape     RescrapeTrigger
	logger       *zap.Logger
	listLimit    int
}

// NewProposalLifecycleManager creates a new ProposalLifecycleManager.
func NewProposalLifecycleManager(deps ProposalLifecycleDeps) *ProposalLifecycleManager {
	limit := deps.ListLimit
	if limit <= 0 {
		limit = 500
	}
	return &ProposalLifecycleManager{
		proposals:    deps.Proposals,
		driftReports: deps.DriftReports,
		actions:      deps.Actions,
		configs:      deps.Configs,
		resolver:     deps.Resolver,
		cascade:      deps.Cascade,
		tx:           deps.Tx,
		scopes:       deps.Scopes,
		rescrape:     deps.Rescrape,
		logger:       deps.Logger,
		listLimit:    limit,
	}
}

// ListProposals returns proposals matching the filter, newest first.
func (m *ProposalLifecycleManager) ListProposals(ctx context.Context, tenantID uuid.UUID, filter *repositories.ProposalFilter) ([]*models.MaintenanceProposal, error) {
	return m.proposals.List(ctx, tenantID, filter)
}

// GetProposal returns one proposal or apperrors.ErrNotFound.
func (m *ProposalLifecycleManager) GetProposal(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	proposal, err := m.proposals.GetByID(ctx, tenantID, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, apperrors.ErrNotFound)
	}
	return proposal, nil
}

// Summary returns proposal counts grouped by status.
func (m *ProposalLifecycleManager) Summary(ctx context.Context, tenantID uuid.UUID) (map[string]int, error) {
	return m.proposals.CountByStatus(ctx, tenantID)
}

// CreateProposal runs inference for one action and persists a pending
// proposal. Returns apperrors.ErrConflict when a pending proposal already
// exists for the action, and (nil, nil) when inference yields no changes.
func (m *ProposalLifecycleManager) CreateProposal(ctx context.Context, actionID uuid.UUID) (*models.MaintenanceProposal, error) {
	action, err := m.actions.GetByID(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, fmt.Errorf("action %s: %w", actionID, apperrors.ErrNotFound)
	}

	pending, err := m.proposals.HasPendingForAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("pending proposal already exists for action %s: %w",
			actionID, apperrors.ErrConflict)
	}

	reports, err := m.driftReports.ListUnresolvedByIntegration(ctx, action.IntegrationID)
	if err != nil {
		return nil, err
	}
	var actionReports []*models.DriftReport
	for _, report := range reports {
		if report.ActionID == actionID {
			actionReports = append(actionReports, report)
		}
	}

	return m.createFromReports(ctx, action, actionReports)
}

// createFromReports runs inference and persists a proposal when at least one
// change resulted.
func (m *ProposalLifecycleManager) createFromReports(ctx context.Context, action *models.Action, reports []*models.DriftReport) (*models.MaintenanceProposal, error) {
	failures, err := m.driftReports.ListFailuresByAction(ctx, action.ID)
	if err != nil {
		return nil, err
	}

	inference, err := InferSchemaUpdates(action.ID, reports, failures, action.InputSchema, action.OutputSchema)
	if err != nil {
		return nil, fmt.Errorf("inference failed for action %s: %w", action.ID, err)
	}
	if len(inference.Changes) == 0 {
		return nil, nil
	}

	driftIDs := usedDriftReportIDs(inference.Changes)
	severity := maxReportSeverity(reports, driftIDs)

	affected, err := m.resolver.FindAffectedTools(ctx, action)
	if err != nil {
		return nil, err
	}

	proposal := &models.MaintenanceProposal{
		TenantID:             action.TenantID,
		IntegrationID:        action.IntegrationID,
		ActionID:             action.ID,
		Status:               models.ProposalStatusPending,
		Severity:             severity,
		Source:               models.ProposalSourceInference,
		CurrentInputSchema:   action.InputSchema,
		CurrentOutputSchema:  action.OutputSchema,
		ProposedInputSchema:  inference.ProposedInputSchema,
		ProposedOutputSchema: inference.ProposedOutputSchema,
		Changes:              inference.Changes,
		Reasoning:            inference.Reasoning,
		DriftReportIDs:       driftIDs,
		AffectedTools:        affected,
	}

	if err := m.proposals.Create(ctx, proposal); err != nil {
		return nil, err
	}

	m.logger.Info("proposal created",
		zap.String("proposal_id", proposal.ID.String()),
		zap.String("action_id", action.ID.String()),
		zap.String("severity", severity),
		zap.Int("changes", len(proposal.Changes)))

	return proposal, nil
}

// Approve applies a pending proposal: the proposed schemas land on the
// action, the referenced drift reports resolve, and the proposal flips to
// approved, all in one transaction. After commit, description suggestions are
// generated in the background; their failure never affects the approval.
func (m *ProposalLifecycleManager) Approve(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	proposal, err := m.GetProposal(ctx, tenantID, proposalID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionProposal(proposal.Status, models.ProposalStatusApproved) {
		return nil, &apperrors.InvalidTransitionError{
			Current:   proposal.Status,
			Requested: models.ProposalStatusApproved,
		}
	}

	now := time.Now()
	err = m.tx.WithinTx(ctx, func(txCtx context.Context) error {
		if err := m.actions.ApplyProposedSchemas(txCtx, proposal.ActionID,
			proposal.ProposedInputSchema, proposal.ProposedOutputSchema); err != nil {
			return err
		}
		if err := m.driftReports.MarkResolved(txCtx, proposal.DriftReportIDs, now); err != nil {
			return err
		}
		return m.proposals.UpdateStatus(txCtx, proposal.ID,
			models.ProposalStatusPending, models.ProposalStatusApproved, now)
	})
	if err != nil {
		return nil, &apperrors.SchemaApplicationError{ProposalID: proposal.ID, Err: err}
	}

	proposal.Status = models.ProposalStatusApproved
	proposal.ApprovedAt = &now
	proposal.AppliedAt = &now

	m.logger.Info("proposal approved",
		zap.String("proposal_id", proposal.ID.String()),
		zap.String("action_id", proposal.ActionID.String()))

	m.startCascade(*proposal)

	return proposal, nil
}

// startCascade generates description suggestions in the background on a
// fresh tenant scope. Failures are logged and swallowed.
func (m *ProposalLifecycleManager) startCascade(proposal models.MaintenanceProposal) {
	if m.cascade == nil || m.scopes == nil {
		return
	}

	go func() {
		bgCtx, cleanup, err := m.scopes.WithTenantScope(context.Background(), proposal.TenantID)
		if err != nil {
			m.logger.Warn("description cascade could not open tenant scope",
				zap.String("proposal_id", proposal.ID.String()),
				zap.Error(err))
			return
		}
		defer cleanup()

		if err := m.cascade.GenerateAndStore(bgCtx, &proposal); err != nil {
			m.logger.Warn("description cascade failed",
				zap.String("proposal_id", proposal.ID.String()),
				zap.Error(err))
		}
	}()
}

// Reject declines a pending proposal. The referenced drift reports stay open
// for a future proposal to address.
func (m *ProposalLifecycleManager) Reject(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	proposal, err := m.GetProposal(ctx, tenantID, proposalID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionProposal(proposal.Status, models.ProposalStatusRejected) {
		return nil, &apperrors.InvalidTransitionError{
			Current:   proposal.Status,
			Requested: models.ProposalStatusRejected,
		}
	}

	now := time.Now()
	if err := m.proposals.UpdateStatus(ctx, proposal.ID,
		models.ProposalStatusPending, models.ProposalStatusRejected, now); err != nil {
		return nil, err
	}

	proposal.Status = models.ProposalStatusRejected
	proposal.RejectedAt = &now
	return proposal, nil
}

// Revert restores an approved proposal's frozen schema snapshots onto the
// action and reopens its drift reports, atomically. Accepted description
// suggestions are not rolled back: description text is a user-owned decision
// that outlives the schema decision behind it.
func (m *ProposalLifecycleManager) Revert(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	proposal, err := m.GetProposal(ctx, tenantID, proposalID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionProposal(proposal.Status, models.ProposalStatusReverted) {
		return nil, &apperrors.InvalidTransitionError{
			Current:   proposal.Status,
			Requested: models.ProposalStatusReverted,
		}
	}

	now := time.Now()
	err = m.tx.WithinTx(ctx, func(txCtx context.Context) error {
		if err := m.actions.RestoreSchemas(txCtx, proposal.ActionID,
			proposal.CurrentInputSchema, proposal.CurrentOutputSchema); err != nil {
			return err
		}
		if err := m.driftReports.Reopen(txCtx, proposal.DriftReportIDs); err != nil {
			return err
		}
		return m.proposals.UpdateStatus(txCtx, proposal.ID,
			models.ProposalStatusApproved, models.ProposalStatusReverted, now)
	})
	if err != nil {
		return nil, &apperrors.RevertError{ProposalID: proposal.ID, Err: err}
	}

	proposal.Status = models.ProposalStatusReverted
	proposal.RevertedAt = &now

	m.logger.Info("proposal reverted",
		zap.String("proposal_id", proposal.ID.String()),
		zap.String("action_id", proposal.ActionID.String()))

	return proposal, nil
}

// BatchApproveResult summarizes a batch approval run.
type BatchApproveResult struct {
	Approved int `json:"approved"`
	Failed   int `json:"failed"`
}

// BatchApprove approves every pending proposal for the integration at or
// below the severity ceiling. Each proposal is approved independently; one
// failure does not block the rest.
func (m *ProposalLifecycleManager) BatchApprove(ctx context.Context, integrationID uuid.UUID, maxSeverity string) (*BatchApproveResult, error) {
	pending, err := m.proposals.ListPendingBySeverity(ctx, integrationID, maxSeverity, m.listLimit)
	if err != nil {
		return nil, err
	}

	result := &BatchApproveResult{}
	for _, proposal := range pending {
		if _, err := m.Approve(ctx, proposal.TenantID, proposal.ID); err != nil {
			m.logger.Warn("batch approve failed for proposal",
				zap.String("proposal_id", proposal.ID.String()),
				zap.Error(err))
			result.Failed++
			continue
		}
		result.Approved++
	}

	return result, nil
}

// ExpireStale transitions every pending proposal whose referenced drift
// reports have all reached resolved, through any means, to expired.
// Per-proposal failures are logged and swallowed.
func (m *ProposalLifecycleManager) ExpireStale(ctx context.Context, tenantID uuid.UUID, integrationID *uuid.UUID) (int, error) {
	expired := 0
	now := time.Now()

	// Page through every pending proposal. Expired proposals drop out of the
	// pending filter, so the offset only advances past proposals kept pending.
	offset := 0
	for {
		pending, err := m.proposals.List(ctx, tenantID, &repositories.ProposalFilter{
			Status:        models.ProposalStatusPending,
			IntegrationID: integrationID,
			Limit:         m.listLimit,
			Offset:        offset,
		})
		if err != nil {
			return expired, err
		}

		for _, proposal := range pending {
			if m.expireIfStale(ctx, proposal, now) {
				expired++
			} else {
				offset++
			}
		}

		if len(pending) < m.listLimit {
			break
		}
	}

	if expired > 0 {
		m.logger.Info("expired stale proposals",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("count", expired))
	}

	return expired, nil
}

// expireIfStale expires one pending proposal when every referenced drift
// report has reached resolved. Failures leave the proposal pending and are
// logged.
func (m *ProposalLifecycleManager) expireIfStale(ctx context.Context, proposal *models.MaintenanceProposal, now time.Time) bool {
	if len(proposal.DriftReportIDs) == 0 {
		return false
	}

	reports, err := m.driftReports.ListByIDs(ctx, proposal.DriftReportIDs)
	if err != nil {
		m.logger.Warn("expiration sweep could not load drift reports",
			zap.String("proposal_id", proposal.ID.String()),
			zap.Error(err))
		return false
	}

	for _, report := range reports {
		if report.IsOpen() {
			return false
		}
	}

	if err := m.proposals.UpdateStatus(ctx, proposal.ID,
		models.ProposalStatusPending, models.ProposalStatusExpired, now); err != nil {
		m.logger.Warn("expiration sweep could not expire proposal",
			zap.String("proposal_id", proposal.ID.String()),
			zap.Error(err))
		return false
	}

	return true
}

// GenerateForIntegration runs the generation pass: sweep stale proposals,
// group open drift reports by action, and create one proposal per action that
// has no pending proposal and at least one inferable change. Breaking
// proposals additionally trigger a targeted documentation re-scrape when the
// integration's config enables it.
func (m *ProposalLifecycleManager) GenerateForIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) ([]*models.MaintenanceProposal, error) {
	cfg, err := m.configs.GetByIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	if _, err := m.ExpireStale(ctx, tenantID, &integrationID); err != nil {
		m.logger.Warn("expiration sweep before generation failed",
			zap.String("integration_id", integrationID.String()),
			zap.Error(err))
	}

	reports, err := m.driftReports.ListUnresolvedByIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	byAction := make(map[uuid.UUID][]*models.DriftReport)
	var actionOrder []uuid.UUID
	for _, report := range reports {
		if _, seen := byAction[report.ActionID]; !seen {
			actionOrder = append(actionOrder, report.ActionID)
		}
		byAction[report.ActionID] = append(byAction[report.ActionID], report)
	}

	var created []*models.MaintenanceProposal
	for _, actionID := range actionOrder {
		pending, err := m.proposals.HasPendingForAction(ctx, actionID)
		if err != nil {
			return nil, err
		}
		if pending {
			continue
		}

		action, err := m.actions.GetByID(ctx, actionID)
		if err != nil {
			return nil, err
		}
		if action == nil {
			m.logger.Warn("drift reports reference unknown action",
				zap.String("action_id", actionID.String()))
			continue
		}

		proposal, err := m.createFromReports(ctx, action, byAction[actionID])
		if err != nil {
			m.logger.Warn("generation pass could not create proposal",
				zap.String("action_id", actionID.String()),
				zap.Error(err))
			continue
		}
		if proposal == nil {
			continue
		}
		created = append(created, proposal)

		if proposal.Severity == models.SeverityBreaking && cfg.RescrapeOnBreaking && m.rescrape != nil {
			m.rescrape.TriggerRescrape(action.SourceURLs, action.Name)
		}
	}

	return created, nil
}

// usedDriftReportIDs returns the distinct drift report ids referenced by the
// applied changes, in first-use order.
func usedDriftReportIDs(changes []models.ProposalChange) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(changes))
	var ids []uuid.UUID
	for _, change := range changes {
		if change.DriftReportID == uuid.Nil || seen[change.DriftReportID] {
			continue
		}
		seen[change.DriftReportID] = true
		ids = append(ids, change.DriftReportID)
	}
	return ids
}

// maxReportSeverity returns the highest severity among the referenced
// reports.
func maxReportSeverity(reports []*models.DriftReport, ids []uuid.UUID) string {
	used := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		used[id] = true
	}

	severity := models.SeverityInfo
	for _, report := range reports {
		if used[report.ID] {
			severity = models.MaxSeverity(severity, report.Severity)
		}
	}
	return severity
}
