package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dispatchly/internal/common"
	"dispatchly/internal/models"
	"dispatchly/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MockChargeService struct {
	mock.Mock
}

func (m *MockChargeService) ChargeTenant(ctx context.Context, record *models.TenantBillingRecord) (*services.ChargeOutcome, error) {
	args := m.Called(ctx, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ChargeOutcome), args.Error(1)
}

func (m *MockChargeService) ChargeNow(ctx context.Context, tenantID uuid.UUID) (*services.ChargeOutcome, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ChargeOutcome), args.Error(1)
}

func (m *MockChargeService) SaveCard(ctx context.Context, tenantID uuid.UUID, cardNonce string) (*models.TenantBillingRecord, error) {
	args := m.Called(ctx, tenantID, cardNonce)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantBillingRecord), args.Error(1)
}

type MockBillingService struct {
	mock.Mock
}

func (m *MockBillingService) Provision(ctx context.Context, tenantID uuid.UUID) (*models.TenantBillingRecord, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantBillingRecord), args.Error(1)
}

func (m *MockBillingService) GetStatus(ctx context.Context, tenantID uuid.UUID, now time.Time, isSuperAdmin bool) (*services.BillingStatus, error) {
	args := m.Called(ctx, tenantID, now, isSuperAdmin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.BillingStatus), args.Error(1)
}

func (m *MockBillingService) Decide(record *models.TenantBillingRecord, now time.Time, isSuperAdmin bool) models.AccessDecision {
	args := m.Called(record, now, isSuperAdmin)
	return args.Get(0).(models.AccessDecision)
}

func (m *MockBillingService) TrialWarning(record *models.TenantBillingRecord, now time.Time) (int, bool) {
	args := m.Called(record, now)
	return args.Int(0), args.Bool(1)
}

func (m *MockBillingService) Cancel(ctx context.Context, tenantID uuid.UUID) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

func (m *MockBillingService) AvailablePlans() map[string]int64 {
	args := m.Called()
	return args.Get(0).(map[string]int64)
}

type MockCacheService struct {
	mock.Mock
}

func (m *MockCacheService) WasNotified(ctx context.Context, tenantID uuid.UUID, kind string) (bool, error) {
	args := m.Called(ctx, tenantID, kind)
	return args.Bool(0), args.Error(1)
}

func (m *MockCacheService) MarkNotified(ctx context.Context, tenantID uuid.UUID, kind string, ttl time.Duration) error {
	args := m.Called(ctx, tenantID, kind, ttl)
	return args.Error(0)
}

func (m *MockCacheService) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func (m *MockCacheService) IncrementRateLimit(ctx context.Context, key string, window time.Duration) error {
	args := m.Called(ctx, key, window)
	return args.Error(0)
}

func (m *MockCacheService) SetString(ctx context.Context, key string, value string, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockCacheService) GetString(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockCacheService) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCacheService) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type BillingHandlersTestSuite struct {
	suite.Suite
	echo        *echo.Echo
	mockBilling *MockBillingService
	mockCharge  *MockChargeService
	mockCache   *MockCacheService
	handlers    *BillingHandlers
	tenantID    uuid.UUID
}

func (suite *BillingHandlersTestSuite) SetupTest() {
	suite.echo = echo.New()
	suite.mockBilling = &MockBillingService{}
	suite.mockCharge = &MockChargeService{}
	suite.mockCache = &MockCacheService{}
	suite.handlers = NewBillingHandlers(suite.mockBilling, suite.mockCharge, nil, nil, suite.mockCache, nil)
	suite.tenantID = uuid.New()
}

func (suite *BillingHandlersTestSuite) TearDownTest() {
	suite.mockBilling.AssertExpectations(suite.T())
	suite.mockCharge.AssertExpectations(suite.T())
	suite.mockCache.AssertExpectations(suite.T())
}

func TestBillingHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(BillingHandlersTestSuite))
}

func (suite *BillingHandlersTestSuite) postContext(path string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, nil)

	ctx := context.WithValue(req.Context(), common.UserIDKey, uuid.New())
	ctx = context.WithValue(ctx, common.TenantIDKey, suite.tenantID)
	ctx = context.WithValue(ctx, common.SuperAdminKey, true)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	return suite.echo.NewContext(req, rec), rec
}

func (suite *BillingHandlersTestSuite) TestChargeNow_MalformedTenantParamRejected() {
	c, rec := suite.postContext("/v1/billing/charge?tenant_id=not-a-uuid")

	err := suite.handlers.ChargeNow(c)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), "tenant_id is not a valid UUID")

	// Rejected before anything mutates: no rate-limit bump, no charge.
	suite.mockCache.AssertNotCalled(suite.T(), "IncrementRateLimit", mock.Anything, mock.Anything, mock.Anything)
	suite.mockCharge.AssertNotCalled(suite.T(), "ChargeNow", mock.Anything, mock.Anything)
}

func (suite *BillingHandlersTestSuite) TestChargeNow_AbsentTenantParamTargetsCaller() {
	c, rec := suite.postContext("/v1/billing/charge")

	suite.mockCache.On("IsRateLimited", mock.Anything, "charge-now:"+suite.tenantID.String(), chargeRateLimit, chargeRateWindow).Return(false, nil)
	suite.mockCache.On("IncrementRateLimit", mock.Anything, "charge-now:"+suite.tenantID.String(), chargeRateWindow).Return(nil)
	suite.mockCharge.On("ChargeNow", mock.Anything, suite.tenantID).
		Return(&services.ChargeOutcome{TenantID: suite.tenantID, Succeeded: true, AmountCents: 2900}, nil)

	err := suite.handlers.ChargeNow(c)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
}

func (suite *BillingHandlersTestSuite) TestChargeNow_ExplicitTenantParamTargetsThatTenant() {
	target := uuid.New()
	c, rec := suite.postContext("/v1/billing/charge?tenant_id=" + target.String())

	suite.mockCache.On("IsRateLimited", mock.Anything, "charge-now:"+target.String(), chargeRateLimit, chargeRateWindow).Return(false, nil)
	suite.mockCache.On("IncrementRateLimit", mock.Anything, "charge-now:"+target.String(), chargeRateWindow).Return(nil)
	suite.mockCharge.On("ChargeNow", mock.Anything, target).
		Return(&services.ChargeOutcome{TenantID: target, Succeeded: true, AmountCents: 2900}, nil)

	err := suite.handlers.ChargeNow(c)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
}

func (suite *BillingHandlersTestSuite) TestCancel_MalformedTenantParamRejected() {
	c, rec := suite.postContext("/v1/billing/cancel?tenant_id=99999")

	err := suite.handlers.Cancel(c)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), "tenant_id is not a valid UUID")

	suite.mockBilling.AssertNotCalled(suite.T(), "Cancel", mock.Anything, mock.Anything)
}

func (suite *BillingHandlersTestSuite) TestCancel_AbsentTenantParamTargetsCaller() {
	c, rec := suite.postContext("/v1/billing/cancel")

	suite.mockBilling.On("Cancel", mock.Anything, suite.tenantID).Return(nil)

	err := suite.handlers.Cancel(c)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
}
