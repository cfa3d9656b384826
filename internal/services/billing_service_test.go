package services

import (
	"context"
	"testing"
	"time"

	"dispatchly/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type BillingServiceTestSuite struct {
	suite.Suite
	mockRepo *MockBillingRepository
	service  BillingService
	now      time.Time
}

func (suite *BillingServiceTestSuite) SetupTest() {
	suite.mockRepo = &MockBillingRepository{}
	suite.service = NewBillingService(suite.mockRepo)
	suite.now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	suite.mockRepo.Test(suite.T())
}

func (suite *BillingServiceTestSuite) TearDownTest() {
	suite.mockRepo.AssertExpectations(suite.T())
}

func TestBillingServiceTestSuite(t *testing.T) {
	suite.Run(t, new(BillingServiceTestSuite))
}

func (suite *BillingServiceTestSuite) record(status string, trialEndsAt time.Time) *models.TenantBillingRecord {
	return &models.TenantBillingRecord{
		TenantID:           uuid.New(),
		Plan:               models.PlanStarter,
		SubscriptionStatus: status,
		TrialEndsAt:        &trialEndsAt,
	}
}

func (suite *BillingServiceTestSuite) TestDecide_TrialStillRunning() {
	record := suite.record(models.StatusTrial, suite.now.AddDate(0, 0, 7))

	decision := suite.service.Decide(record, suite.now, false)
	assert.True(suite.T(), decision.Allowed)
	assert.Empty(suite.T(), decision.BlockedReason)
}

func (suite *BillingServiceTestSuite) TestDecide_TrialExpiredBlocks() {
	record := suite.record(models.StatusTrial, suite.now.AddDate(0, 0, -10))

	decision := suite.service.Decide(record, suite.now, false)
	assert.False(suite.T(), decision.Allowed)
	assert.Equal(suite.T(), models.BlockedReasonPaymentRequired, decision.BlockedReason)
	assert.Equal(suite.T(), 10, decision.DaysOverdue)
}

func (suite *BillingServiceTestSuite) TestDecide_ActivePastDueDateAllowed() {
	// An active subscription stays allowed even past the stored date; the
	// sweep will advance it.
	record := suite.record(models.StatusActive, suite.now.AddDate(0, 0, -2))

	decision := suite.service.Decide(record, suite.now, false)
	assert.True(suite.T(), decision.Allowed)
}

func (suite *BillingServiceTestSuite) TestDecide_PaymentFailedBlocks() {
	record := suite.record(models.StatusPaymentFailed, suite.now.AddDate(0, 0, -1))

	decision := suite.service.Decide(record, suite.now, false)
	assert.False(suite.T(), decision.Allowed)
	assert.Equal(suite.T(), models.BlockedReasonPaymentRequired, decision.BlockedReason)
}

func (suite *BillingServiceTestSuite) TestDecide_CancelledPastDueBlocks() {
	record := suite.record(models.StatusCancelled, suite.now.AddDate(0, 0, -3))

	decision := suite.service.Decide(record, suite.now, false)
	assert.False(suite.T(), decision.Allowed)
}

func (suite *BillingServiceTestSuite) TestDecide_SuperAdminAlwaysAllowed() {
	record := suite.record(models.StatusPaymentFailed, suite.now.AddDate(0, 0, -30))

	decision := suite.service.Decide(record, suite.now, true)
	assert.True(suite.T(), decision.Allowed)
}

func (suite *BillingServiceTestSuite) TestDecide_SuperAdminOwnedTenantAllowed() {
	record := suite.record(models.StatusTrial, suite.now.AddDate(0, 0, -30))
	record.IsSuperAdminOwned = true

	decision := suite.service.Decide(record, suite.now, false)
	assert.True(suite.T(), decision.Allowed)
}

func (suite *BillingServiceTestSuite) TestDecide_NilRecordFailsOpen() {
	decision := suite.service.Decide(nil, suite.now, false)
	assert.True(suite.T(), decision.Allowed)
}

func (suite *BillingServiceTestSuite) TestDecide_NilTrialEndsAtAllowed() {
	record := &models.TenantBillingRecord{
		TenantID:           uuid.New(),
		Plan:               models.PlanStarter,
		SubscriptionStatus: models.StatusTrial,
	}

	decision := suite.service.Decide(record, suite.now, false)
	assert.True(suite.T(), decision.Allowed)
}

func (suite *BillingServiceTestSuite) TestDecide_Deterministic() {
	record := suite.record(models.StatusTrial, suite.now.AddDate(0, 0, -5))

	first := suite.service.Decide(record, suite.now, false)
	second := suite.service.Decide(record, suite.now, false)
	assert.Equal(suite.T(), first, second)
}

func (suite *BillingServiceTestSuite) TestTrialWarning_InsideWindow() {
	record := suite.record(models.StatusTrial, suite.now.Add(36*time.Hour))

	days, warn := suite.service.TrialWarning(record, suite.now)
	assert.True(suite.T(), warn)
	assert.Equal(suite.T(), 2, days)
}

// Exactly three days out is inside the window; a whole-day remainder must
// not round up to four.
func (suite *BillingServiceTestSuite) TestTrialWarning_ExactlyThreeDaysLeft() {
	record := suite.record(models.StatusTrial, suite.now.Add(72*time.Hour))

	days, warn := suite.service.TrialWarning(record, suite.now)
	assert.True(suite.T(), warn)
	assert.Equal(suite.T(), 3, days)
}

func (suite *BillingServiceTestSuite) TestTrialWarning_JustOverThreeDaysLeft() {
	record := suite.record(models.StatusTrial, suite.now.Add(72*time.Hour+time.Minute))

	days, warn := suite.service.TrialWarning(record, suite.now)
	assert.False(suite.T(), warn)
	assert.Equal(suite.T(), 4, days)
}

func (suite *BillingServiceTestSuite) TestTrialWarning_OutsideWindow() {
	record := suite.record(models.StatusTrial, suite.now.AddDate(0, 0, 10))

	_, warn := suite.service.TrialWarning(record, suite.now)
	assert.False(suite.T(), warn)
}

func (suite *BillingServiceTestSuite) TestTrialWarning_ActiveNeverWarns() {
	record := suite.record(models.StatusActive, suite.now.Add(24*time.Hour))

	_, warn := suite.service.TrialWarning(record, suite.now)
	assert.False(suite.T(), warn)
}

func (suite *BillingServiceTestSuite) TestTrialWarning_ExpiredNeverWarns() {
	record := suite.record(models.StatusTrial, suite.now.Add(-time.Hour))

	_, warn := suite.service.TrialWarning(record, suite.now)
	assert.False(suite.T(), warn)
}

func (suite *BillingServiceTestSuite) TestPlanAmountCents() {
	assert.Equal(suite.T(), int64(2900), PlanAmountCents(models.PlanStarter))
	assert.Equal(suite.T(), int64(7900), PlanAmountCents(models.PlanProfessional))
	assert.Equal(suite.T(), int64(19900), PlanAmountCents(models.PlanEnterprise))
}

func (suite *BillingServiceTestSuite) TestPlanAmountCents_UnknownPlanFallsBack() {
	assert.Equal(suite.T(), PlanAmountCents(models.DefaultPlan), PlanAmountCents("legacy-gold"))
}

func (suite *BillingServiceTestSuite) TestNextBillingDate_OneMonthFromNow() {
	next := NextBillingDate(suite.now)
	assert.Equal(suite.T(), suite.now.AddDate(0, 1, 0), next)
}

func (suite *BillingServiceTestSuite) TestProvision_CreatesTrialRecord() {
	ctx := context.Background()
	tenantID := uuid.New()

	suite.mockRepo.On("CreateRecord", ctx, mock.AnythingOfType("*models.TenantBillingRecord")).
		Return(nil).
		Run(func(args mock.Arguments) {
			record := args.Get(1).(*models.TenantBillingRecord)
			assert.Equal(suite.T(), tenantID, record.TenantID)
			assert.Equal(suite.T(), models.DefaultPlan, record.Plan)
			assert.Equal(suite.T(), models.StatusTrial, record.SubscriptionStatus)
			assert.NotNil(suite.T(), record.TrialEndsAt)
			assert.WithinDuration(suite.T(), time.Now().AddDate(0, 0, models.TrialPeriodDays), *record.TrialEndsAt, time.Minute)
		})

	record, err := suite.service.Provision(ctx, tenantID)
	assert.NoError(suite.T(), err)
	assert.NotNil(suite.T(), record)
}

func (suite *BillingServiceTestSuite) TestCancel_PatchesStatusOnly() {
	ctx := context.Background()
	tenantID := uuid.New()

	suite.mockRepo.On("UpdateRecord", ctx, tenantID, mock.MatchedBy(func(patch models.BillingPatch) bool {
		return patch.SubscriptionStatus != nil &&
			*patch.SubscriptionStatus == models.StatusCancelled &&
			patch.TrialEndsAt == nil &&
			patch.Plan == nil
	})).Return(nil)

	err := suite.service.Cancel(ctx, tenantID)
	assert.NoError(suite.T(), err)
}

func (suite *BillingServiceTestSuite) TestAvailablePlans_CopyIsIndependent() {
	plans := suite.service.AvailablePlans()
	plans[models.PlanStarter] = 1

	assert.Equal(suite.T(), int64(2900), suite.service.AvailablePlans()[models.PlanStarter])
}
