package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skein-ai/skein-engine/pkg/apperrors"
	"github.com/skein-ai/skein-engine/pkg/models"
	"github.com/skein-ai/skein-engine/pkg/repositories"
	"github.com/skein-ai/skein-engine/pkg/services"
)

// mockProposalService stubs ProposalService with per-method functions.
type mockProposalService struct {
	listFn     func(ctx context.Context, tenantID uuid.UUID, filter *repositories.ProposalFilter) ([]*models.MaintenanceProposal, error)
	getFn      func(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	summaryFn  func(ctx context.Context, tenantID uuid.UUID) (map[string]int, error)
	createFn   func(ctx context.Context, actionID uuid.UUID) (*models.MaintenanceProposal, error)
	approveFn  func(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	rejectFn   func(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	revertFn   func(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	batchFn    func(ctx context.Context, integrationID uuid.UUID, maxSeverity string) (*services.BatchApproveResult, error)
	expireFn   func(ctx context.Context, tenantID uuid.UUID, integrationID *uuid.UUID) (int, error)
	generateFn func(ctx context.Context, tenantID, integrationID uuid.UUID) ([]*models.MaintenanceProposal, error)
}

func (m *mockProposalService) ListProposals(ctx context.Context, tenantID uuid.UUID, filter *repositories.ProposalFilter) ([]*models.MaintenanceProposal, error) {
	return m.listFn(ctx, tenantID, filter)
}

func (m *mockProposalService) GetProposal(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	return m.getFn(ctx, tenantID, proposalID)
}

func (m *mockProposalService) Summary(ctx context.Context, tenantID uuid.UUID) (map[string]int, error) {
	return m.summaryFn(ctx, tenantID)
}

func (m *mockProposalService) CreateProposal(ctx context.Context, actionID uuid.UUID) (*models.MaintenanceProposal, error) {
	return m.createFn(ctx, actionID)
}

func (m *mockProposalService) Approve(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	return m.approveFn(ctx, tenantID, proposalID)
}

func (m *mockProposalService) Reject(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	return m.rejectFn(ctx, tenantID, proposalID)
}

func (m *mockProposalService) Revert(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	return m.revertFn(ctx, tenantID, proposalID)
}

func (m *mockProposalService) BatchApprove(ctx context.Context, integrationID uuid.UUID, maxSeverity string) (*services.BatchApproveResult, error) {
	return m.batchFn(ctx, integrationID, maxSeverity)
}

func (m *mockProposalService) ExpireStale(ctx context.Context, tenantID uuid.UUID, integrationID *uuid.UUID) (int, error) {
	return m.expireFn(ctx, tenantID, integrationID)
}

func (m *mockProposalService) GenerateForIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) ([]*models.MaintenanceProposal, error) {
	return m.generateFn(ctx, tenantID, integrationID)
}

type mockDecisionService struct {
	applyFn func(ctx context.Context, tenantID, proposalID uuid.UUID, decisions []models.DescriptionDecision) (*models.MaintenanceProposal, error)
}

func (m *mockDecisionService) ApplyDecisions(ctx context.Context, tenantID, proposalID uuid.UUID, decisions []models.DescriptionDecision) (*models.MaintenanceProposal, error) {
	return m.applyFn(ctx, tenantID, proposalID, decisions)
}

func newTestMux(proposals ProposalService, decisions DecisionService) *http.ServeMux {
	mux := http.NewServeMux()
	handler := NewMaintenanceHandler(proposals, decisions, zap.NewNop())
	passthrough := func(next http.HandlerFunc) http.HandlerFunc { return next }
	handler.RegisterRoutes(mux, passthrough)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListProposals(t *testing.T) {
	tenantID := uuid.New()
	actionID := uuid.New()

	svc := &mockProposalService{
		listFn: func(_ context.Context, gotTenant uuid.UUID, filter *repositories.ProposalFilter) ([]*models.MaintenanceProposal, error) {
			assert.Equal(t, tenantID, gotTenant)
			assert.Equal(t, models.ProposalStatusPending, filter.Status)
			require.NotNil(t, filter.ActionID)
			assert.Equal(t, actionID, *filter.ActionID)
			assert.Equal(t, 10, filter.Limit)
			return []*models.MaintenanceProposal{{ID: uuid.New(), Status: models.ProposalStatusPending}}, nil
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodGet,
		fmt.Sprintf("/api/tenants/%s/proposals?status=pending&action_id=%s&limit=10", tenantID, actionID), "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestListProposalsInvalidLimit(t *testing.T) {
	mux := newTestMux(&mockProposalService{}, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodGet,
		fmt.Sprintf("/api/tenants/%s/proposals?limit=nope", uuid.New()), "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProposalNotFound(t *testing.T) {
	svc := &mockProposalService{
		getFn: func(context.Context, uuid.UUID, uuid.UUID) (*models.MaintenanceProposal, error) {
			return nil, fmt.Errorf("proposal: %w", apperrors.ErrNotFound)
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodGet,
		fmt.Sprintf("/api/tenants/%s/proposals/%s", uuid.New(), uuid.New()), "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestGetProposalInvalidID(t *testing.T) {
	mux := newTestMux(&mockProposalService{}, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodGet,
		fmt.Sprintf("/api/tenants/%s/proposals/not-a-uuid", uuid.New()), "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_proposal_id")
}

func TestApproveProposal(t *testing.T) {
	proposalID := uuid.New()
	svc := &mockProposalService{
		approveFn: func(_ context.Context, _, gotID uuid.UUID) (*models.MaintenanceProposal, error) {
			assert.Equal(t, proposalID, gotID)
			return &models.MaintenanceProposal{ID: gotID, Status: models.ProposalStatusApproved}, nil
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/proposals/%s/approve", uuid.New(), proposalID), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), models.ProposalStatusApproved)
}

func TestApproveProposalInvalidTransition(t *testing.T) {
	svc := &mockProposalService{
		approveFn: func(context.Context, uuid.UUID, uuid.UUID) (*models.MaintenanceProposal, error) {
			return nil, &apperrors.InvalidTransitionError{
				Current:   models.ProposalStatusRejected,
				Requested: models.ProposalStatusApproved,
			}
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/proposals/%s/approve", uuid.New(), uuid.New()), "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_transition")
}

func TestCreateProposalConflict(t *testing.T) {
	svc := &mockProposalService{
		createFn: func(context.Context, uuid.UUID) (*models.MaintenanceProposal, error) {
			return nil, fmt.Errorf("pending proposal exists: %w", apperrors.ErrConflict)
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/actions/%s/proposals", uuid.New(), uuid.New()), "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateProposalNothingInferable(t *testing.T) {
	svc := &mockProposalService{
		createFn: func(context.Context, uuid.UUID) (*models.MaintenanceProposal, error) {
			return nil, nil
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/actions/%s/proposals", uuid.New(), uuid.New()), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No schema changes could be inferred")
}

func TestCreateProposalCreated(t *testing.T) {
	svc := &mockProposalService{
		createFn: func(_ context.Context, actionID uuid.UUID) (*models.MaintenanceProposal, error) {
			return &models.MaintenanceProposal{ID: uuid.New(), ActionID: actionID, Status: models.ProposalStatusPending}, nil
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/actions/%s/proposals", uuid.New(), uuid.New()), "")

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestBatchApproveValidatesSeverity(t *testing.T) {
	mux := newTestMux(&mockProposalService{}, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/integrations/%s/proposals/batch-approve", uuid.New(), uuid.New()),
		`{"max_severity":"catastrophic"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_severity")
}

func TestBatchApprove(t *testing.T) {
	integrationID := uuid.New()
	svc := &mockProposalService{
		batchFn: func(_ context.Context, gotID uuid.UUID, maxSeverity string) (*services.BatchApproveResult, error) {
			assert.Equal(t, integrationID, gotID)
			assert.Equal(t, models.SeverityWarning, maxSeverity)
			return &services.BatchApproveResult{Approved: 3, Failed: 1}, nil
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/integrations/%s/proposals/batch-approve", uuid.New(), integrationID),
		`{"max_severity":"warning"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"approved":3`)
}

func TestApplyDecisions(t *testing.T) {
	toolID := uuid.New()
	decisions := &mockDecisionService{
		applyFn: func(_ context.Context, _, _ uuid.UUID, got []models.DescriptionDecision) (*models.MaintenanceProposal, error) {
			require.Len(t, got, 1)
			assert.Equal(t, toolID, got[0].ToolID)
			assert.True(t, got[0].Accept)
			return &models.MaintenanceProposal{Status: models.ProposalStatusApproved}, nil
		},
	}
	mux := newTestMux(&mockProposalService{}, decisions)

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/proposals/%s/decisions", uuid.New(), uuid.New()),
		fmt.Sprintf(`{"decisions":[{"tool_id":%q,"accept":true}]}`, toolID))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApplyDecisionsInvalidBody(t *testing.T) {
	mux := newTestMux(&mockProposalService{}, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/proposals/%s/decisions", uuid.New(), uuid.New()),
		`{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpireWithIntegrationFilter(t *testing.T) {
	integrationID := uuid.New()
	svc := &mockProposalService{
		expireFn: func(_ context.Context, _ uuid.UUID, gotIntegration *uuid.UUID) (int, error) {
			require.NotNil(t, gotIntegration)
			assert.Equal(t, integrationID, *gotIntegration)
			return 2, nil
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/proposals/expire?integration_id=%s", uuid.New(), integrationID), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"expired":2`)
}

func TestGenerateForIntegration(t *testing.T) {
	svc := &mockProposalService{
		generateFn: func(context.Context, uuid.UUID, uuid.UUID) ([]*models.MaintenanceProposal, error) {
			return []*models.MaintenanceProposal{{ID: uuid.New()}}, nil
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodPost,
		fmt.Sprintf("/api/tenants/%s/integrations/%s/proposals/generate", uuid.New(), uuid.New()), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestSummary(t *testing.T) {
	svc := &mockProposalService{
		summaryFn: func(context.Context, uuid.UUID) (map[string]int, error) {
			return map[string]int{models.ProposalStatusPending: 4}, nil
		},
	}
	mux := newTestMux(svc, &mockDecisionService{})

	rec := doRequest(t, mux, http.MethodGet,
		fmt.Sprintf("/api/tenants/%s/proposals/summary", uuid.New()), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending":4`)
}
