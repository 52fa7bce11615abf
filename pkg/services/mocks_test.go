package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skein-ai/skein-engine/pkg/apperrors"
	"github.com/skein-ai/skein-engine/pkg/models"
	"github.com/skein-ai/skein-engine/pkg/repositories"
)

// In-memory fakes for the repository and collaborator interfaces. Error
// fields let tests inject failures at specific points.

type fakeProposalRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.MaintenanceProposal

	createErr       error
	updateStatusErr error
	suggestionsErr  error

	suggestionWrites int
}

func newFakeProposalRepo() *fakeProposalRepo {
	return &fakeProposalRepo{byID: make(map[uuid.UUID]*models.MaintenanceProposal)}
}

func (r *fakeProposalRepo) Create(_ context.Context, proposal *models.MaintenanceProposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.byID {
		if existing.ActionID == proposal.ActionID && existing.Status == models.ProposalStatusPending {
			return fmt.Errorf("pending proposal already exists for action %s: %w",
				proposal.ActionID, apperrors.ErrConflict)
		}
	}
	proposal.ID = uuid.New()
	proposal.CreatedAt = time.Now()
	r.byID[proposal.ID] = proposal
	return nil
}

func (r *fakeProposalRepo) GetByID(_ context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proposal, ok := r.byID[proposalID]
	if !ok || proposal.TenantID != tenantID {
		return nil, nil
	}
	return proposal, nil
}

func (r *fakeProposalRepo) List(_ context.Context, tenantID uuid.UUID, filter *repositories.ProposalFilter) ([]*models.MaintenanceProposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.MaintenanceProposal
	for _, proposal := range r.byID {
		if proposal.TenantID != tenantID {
			continue
		}
		if filter != nil {
			if filter.Status != "" && proposal.Status != filter.Status {
				continue
			}
			if filter.Severity != "" && proposal.Severity != filter.Severity {
				continue
			}
			if filter.ActionID != nil && proposal.ActionID != *filter.ActionID {
				continue
			}
			if filter.IntegrationID != nil && proposal.IntegrationID != *filter.IntegrationID {
				continue
			}
		}
		out = append(out, proposal)
	}

	// Mirror the store: newest first, then limit/offset. Ties break on ID so
	// paging sees a stable order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(out) {
				return nil, nil
			}
			out = out[filter.Offset:]
		}
		if filter.Limit > 0 && len(out) > filter.Limit {
			out = out[:filter.Limit]
		}
	}
	return out, nil
}

func (r *fakeProposalRepo) ListPendingBySeverity(_ context.Context, integrationID uuid.UUID, maxSeverity string, _ int) ([]*models.MaintenanceProposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ceiling := models.SeverityRank(maxSeverity)
	if ceiling == 0 {
		ceiling = models.SeverityRank(models.SeverityBreaking)
	}

	var out []*models.MaintenanceProposal
	for _, proposal := range r.byID {
		if proposal.IntegrationID != integrationID || proposal.Status != models.ProposalStatusPending {
			continue
		}
		if models.SeverityRank(proposal.Severity) > ceiling {
			continue
		}
		out = append(out, proposal)
	}
	return out, nil
}

func (r *fakeProposalRepo) CountByStatus(_ context.Context, tenantID uuid.UUID) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int)
	for _, proposal := range r.byID {
		if proposal.TenantID == tenantID {
			counts[proposal.Status]++
		}
	}
	return counts, nil
}

func (r *fakeProposalRepo) HasPendingForAction(_ context.Context, actionID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, proposal := range r.byID {
		if proposal.ActionID == actionID && proposal.Status == models.ProposalStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeProposalRepo) UpdateStatus(_ context.Context, proposalID uuid.UUID, from, to string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateStatusErr != nil {
		return r.updateStatusErr
	}
	proposal, ok := r.byID[proposalID]
	if !ok {
		return fmt.Errorf("proposal not found")
	}
	if proposal.Status != from {
		return fmt.Errorf("proposal %s is no longer %s", proposalID, from)
	}
	proposal.Status = to
	switch to {
	case models.ProposalStatusApproved:
		proposal.ApprovedAt = &at
		proposal.AppliedAt = &at
	case models.ProposalStatusRejected:
		proposal.RejectedAt = &at
	case models.ProposalStatusExpired:
		proposal.ExpiredAt = &at
	case models.ProposalStatusReverted:
		proposal.RevertedAt = &at
	}
	return nil
}

func (r *fakeProposalRepo) SetDescriptionSuggestions(_ context.Context, proposalID uuid.UUID, suggestions []models.DescriptionSuggestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.suggestionsErr != nil {
		return r.suggestionsErr
	}
	proposal, ok := r.byID[proposalID]
	if !ok {
		return fmt.Errorf("proposal not found")
	}
	proposal.DescriptionSuggestions = suggestions
	r.suggestionWrites++
	return nil
}

var _ repositories.MaintenanceProposalRepository = (*fakeProposalRepo)(nil)

type fakeDriftRepo struct {
	mu       sync.Mutex
	reports  map[uuid.UUID]*models.DriftReport
	failures []*models.ValidationFailure

	markResolvedErr error
	reopenErr       error
}

func newFakeDriftRepo() *fakeDriftRepo {
	return &fakeDriftRepo{reports: make(map[uuid.UUID]*models.DriftReport)}
}

func (r *fakeDriftRepo) add(report *models.DriftReport) *models.DriftReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.ID] = report
	return report
}

func (r *fakeDriftRepo) ListUnresolvedByIntegration(_ context.Context, integrationID uuid.UUID) ([]*models.DriftReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.DriftReport
	for _, report := range r.reports {
		if report.IntegrationID == integrationID && report.IsOpen() {
			out = append(out, report)
		}
	}
	return out, nil
}

func (r *fakeDriftRepo) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*models.DriftReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.DriftReport
	for _, id := range ids {
		if report, ok := r.reports[id]; ok {
			out = append(out, report)
		}
	}
	return out, nil
}

func (r *fakeDriftRepo) MarkResolved(_ context.Context, ids []uuid.UUID, resolvedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.markResolvedErr != nil {
		return r.markResolvedErr
	}
	for _, id := range ids {
		if report, ok := r.reports[id]; ok && report.IsOpen() {
			report.Status = models.DriftStatusResolved
			report.ResolvedAt = &resolvedAt
		}
	}
	return nil
}

func (r *fakeDriftRepo) Reopen(_ context.Context, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reopenErr != nil {
		return r.reopenErr
	}
	for _, id := range ids {
		if report, ok := r.reports[id]; ok {
			report.Status = models.DriftStatusDetected
			report.ResolvedAt = nil
		}
	}
	return nil
}

func (r *fakeDriftRepo) ListFailuresByAction(_ context.Context, actionID uuid.UUID) ([]*models.ValidationFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.ValidationFailure
	for _, failure := range r.failures {
		if failure.ActionID == actionID {
			out = append(out, failure)
		}
	}
	return out, nil
}

var _ repositories.DriftReportRepository = (*fakeDriftRepo)(nil)

type fakeActionRepo struct {
	mu      sync.Mutex
	actions map[uuid.UUID]*models.Action

	applyErr      error
	restoreErr    error
	updateDescErr error
}

func newFakeActionRepo() *fakeActionRepo {
	return &fakeActionRepo{actions: make(map[uuid.UUID]*models.Action)}
}

func (r *fakeActionRepo) add(action *models.Action) *models.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action.ID] = action
	return action
}

func (r *fakeActionRepo) GetByID(_ context.Context, actionID uuid.UUID) (*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	action, ok := r.actions[actionID]
	if !ok {
		return nil, nil
	}
	copied := *action
	return &copied, nil
}

func (r *fakeActionRepo) ApplyProposedSchemas(_ context.Context, actionID uuid.UUID, inputSchema, outputSchema json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.applyErr != nil {
		return r.applyErr
	}
	action, ok := r.actions[actionID]
	if !ok {
		return fmt.Errorf("action not found")
	}
	if inputSchema != nil {
		action.InputSchema = inputSchema
	}
	if outputSchema != nil {
		action.OutputSchema = outputSchema
	}
	return nil
}

func (r *fakeActionRepo) RestoreSchemas(_ context.Context, actionID uuid.UUID, inputSchema, outputSchema json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.restoreErr != nil {
		return r.restoreErr
	}
	action, ok := r.actions[actionID]
	if !ok {
		return fmt.Errorf("action not found")
	}
	action.InputSchema = inputSchema
	action.OutputSchema = outputSchema
	return nil
}

func (r *fakeActionRepo) UpdateDescription(_ context.Context, actionID uuid.UUID, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateDescErr != nil {
		return r.updateDescErr
	}
	action, ok := r.actions[actionID]
	if !ok {
		return fmt.Errorf("action not found")
	}
	action.Description = description
	return nil
}

func (r *fakeActionRepo) get(actionID uuid.UUID) *models.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actions[actionID]
}

var _ repositories.ActionRepository = (*fakeActionRepo)(nil)

type fakeCompositeRepo struct {
	mu       sync.Mutex
	tools    map[uuid.UUID]*models.CompositeTool
	ops      map[uuid.UUID][]*models.CompositeOperation
	byAction map[uuid.UUID][]*models.CompositeTool
}

func newFakeCompositeRepo() *fakeCompositeRepo {
	return &fakeCompositeRepo{
		tools:    make(map[uuid.UUID]*models.CompositeTool),
		ops:      make(map[uuid.UUID][]*models.CompositeOperation),
		byAction: make(map[uuid.UUID][]*models.CompositeTool),
	}
}

func (r *fakeCompositeRepo) add(tool *models.CompositeTool, operations ...*models.CompositeOperation) *models.CompositeTool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[tool.ID] = tool
	r.ops[tool.ID] = operations
	for _, op := range operations {
		r.byAction[op.ActionID] = append(r.byAction[op.ActionID], tool)
	}
	return tool
}

func (r *fakeCompositeRepo) GetByID(_ context.Context, toolID uuid.UUID) (*models.CompositeTool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tools[toolID], nil
}

func (r *fakeCompositeRepo) ListByActionID(_ context.Context, actionID uuid.UUID) ([]*models.CompositeTool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uuid.UUID]bool)
	var out []*models.CompositeTool
	for _, tool := range r.byAction[actionID] {
		if !seen[tool.ID] {
			seen[tool.ID] = true
			out = append(out, tool)
		}
	}
	return out, nil
}

func (r *fakeCompositeRepo) ListOperations(_ context.Context, toolID uuid.UUID) ([]*models.CompositeOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[toolID], nil
}

func (r *fakeCompositeRepo) UpdateDescription(_ context.Context, toolID uuid.UUID, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tool, ok := r.tools[toolID]
	if !ok {
		return fmt.Errorf("composite tool not found")
	}
	tool.Description = description
	return nil
}

var _ repositories.CompositeToolRepository = (*fakeCompositeRepo)(nil)

type fakeAgenticRepo struct {
	mu    sync.Mutex
	tools map[uuid.UUID]*models.AgenticTool

	updateAllocErr error
}

func newFakeAgenticRepo() *fakeAgenticRepo {
	return &fakeAgenticRepo{tools: make(map[uuid.UUID]*models.AgenticTool)}
}

func (r *fakeAgenticRepo) add(tool *models.AgenticTool) *models.AgenticTool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.ID] = tool
	return tool
}

func (r *fakeAgenticRepo) GetByID(_ context.Context, toolID uuid.UUID) (*models.AgenticTool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tools[toolID], nil
}

func (r *fakeAgenticRepo) ListByIntegration(_ context.Context, integrationID uuid.UUID) ([]*models.AgenticTool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AgenticTool
	for _, tool := range r.tools {
		if tool.IntegrationID == integrationID {
			out = append(out, tool)
		}
	}
	return out, nil
}

func (r *fakeAgenticRepo) UpdateAllocation(_ context.Context, toolID uuid.UUID, allocation json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateAllocErr != nil {
		return r.updateAllocErr
	}
	tool, ok := r.tools[toolID]
	if !ok {
		return fmt.Errorf("agentic tool not found")
	}
	tool.Allocation = allocation
	return nil
}

var _ repositories.AgenticToolRepository = (*fakeAgenticRepo)(nil)

type fakeConfigRepo struct {
	configs map[uuid.UUID]*models.MaintenanceConfig
}

func newFakeConfigRepo() *fakeConfigRepo {
	return &fakeConfigRepo{configs: make(map[uuid.UUID]*models.MaintenanceConfig)}
}

func (r *fakeConfigRepo) GetByIntegration(_ context.Context, integrationID uuid.UUID) (*models.MaintenanceConfig, error) {
	if cfg, ok := r.configs[integrationID]; ok {
		return cfg, nil
	}
	return models.DefaultMaintenanceConfig(integrationID), nil
}

var _ repositories.MaintenanceConfigRepository = (*fakeConfigRepo)(nil)

type fakeTargetRepo struct {
	targets []models.MaintenanceTarget
	err     error
}

func (r *fakeTargetRepo) ListEnabled(context.Context) ([]models.MaintenanceTarget, error) {
	return r.targets, r.err
}

var _ repositories.MaintenanceTargetRepository = (*fakeTargetRepo)(nil)

// fakeTxManager mimics transaction semantics over the in-memory fakes: the
// test wires onBegin to snapshot fake state and onRollback to restore it.
type fakeTxManager struct {
	beginErr   error
	onBegin    func()
	onRollback func()
}

func (m *fakeTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.beginErr != nil {
		return m.beginErr
	}
	if m.onBegin != nil {
		m.onBegin()
	}
	if err := fn(ctx); err != nil {
		if m.onRollback != nil {
			m.onRollback()
		}
		return err
	}
	return nil
}

type fakeScopes struct {
	err error
}

func (s *fakeScopes) WithTenantScope(ctx context.Context, _ uuid.UUID) (context.Context, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return ctx, func() {}, nil
}

type fakeResolver struct {
	tools []models.AffectedTool
	err   error
}

func (r *fakeResolver) FindAffectedTools(_ context.Context, action *models.Action) ([]models.AffectedTool, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.tools != nil {
		return r.tools, nil
	}
	return []models.AffectedTool{{
		ToolType: models.ToolTypeAction,
		ToolID:   action.ID,
		ToolName: action.Name,
	}}, nil
}

type fakeCascade struct {
	mu    sync.Mutex
	calls []uuid.UUID
	done  chan struct{}
	err   error
}

func newFakeCascade() *fakeCascade {
	return &fakeCascade{done: make(chan struct{}, 8)}
}

func (c *fakeCascade) GenerateAndStore(_ context.Context, proposal *models.MaintenanceProposal) error {
	c.mu.Lock()
	c.calls = append(c.calls, proposal.ID)
	c.mu.Unlock()
	c.done <- struct{}{}
	return c.err
}

func (c *fakeCascade) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeRescrape struct {
	mu    sync.Mutex
	calls [][]string
	hints []string
}

func (r *fakeRescrape) TriggerRescrape(sourceURLs []string, filterHint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sourceURLs)
	r.hints = append(r.hints, filterHint)
}

func (r *fakeRescrape) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
