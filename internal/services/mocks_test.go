package services

import (
	"context"
	"time"

	"dispatchly/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockBillingRepository struct {
	mock.Mock
}

func (m *MockBillingRepository) CreateRecord(ctx context.Context, record *models.TenantBillingRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockBillingRepository) GetRecord(ctx context.Context, tenantID uuid.UUID) (*models.TenantBillingRecord, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantBillingRecord), args.Error(1)
}

func (m *MockBillingRepository) UpdateRecord(ctx context.Context, tenantID uuid.UUID, patch models.BillingPatch) error {
	args := m.Called(ctx, tenantID, patch)
	return args.Error(0)
}

func (m *MockBillingRepository) AppendHistory(ctx context.Context, entry *models.PaymentHistoryEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockBillingRepository) GetHistoryEntry(ctx context.Context, tenantID, id uuid.UUID) (*models.PaymentHistoryEntry, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentHistoryEntry), args.Error(1)
}

func (m *MockBillingRepository) GetHistoryByCycleKey(ctx context.Context, tenantID uuid.UUID, cycleKey string) (*models.PaymentHistoryEntry, error) {
	args := m.Called(ctx, tenantID, cycleKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentHistoryEntry), args.Error(1)
}

func (m *MockBillingRepository) ListHistory(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.PaymentHistoryEntry, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PaymentHistoryEntry), args.Error(1)
}

func (m *MockBillingRepository) ListDueForCharge(ctx context.Context, now time.Time) ([]*models.TenantBillingRecord, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TenantBillingRecord), args.Error(1)
}

func (m *MockBillingRepository) ListTrialsExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*models.TenantBillingRecord, error) {
	args := m.Called(ctx, now, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TenantBillingRecord), args.Error(1)
}

func (m *MockBillingRepository) ListTrialsExpiredWithin(ctx context.Context, now time.Time, lookback time.Duration) ([]*models.TenantBillingRecord, error) {
	args := m.Called(ctx, now, lookback)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TenantBillingRecord), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetTenantIDByUserID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockUserRepository) GetBillingContact(ctx context.Context, tenantID uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockPaymentGatewayService struct {
	mock.Mock
}

func (m *MockPaymentGatewayService) CreateCustomer(ctx context.Context, tenantRef, name, email string) (string, error) {
	args := m.Called(ctx, tenantRef, name, email)
	return args.String(0), args.Error(1)
}

func (m *MockPaymentGatewayService) CreateCardOnFile(ctx context.Context, customerID, cardNonce, idempotencyKey string) (string, string, error) {
	args := m.Called(ctx, customerID, cardNonce, idempotencyKey)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockPaymentGatewayService) Charge(ctx context.Context, customerID, cardID string, amountCents int64, idempotencyKey, referenceID string) (*PaymentResult, error) {
	args := m.Called(ctx, customerID, cardID, amountCents, idempotencyKey, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentResult), args.Error(1)
}

type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) Notify(ctx context.Context, kind models.NotificationKind, tenantEmail string, data map[string]interface{}) {
	m.Called(ctx, kind, tenantEmail, data)
}

func (m *MockNotificationService) NotifyOnce(ctx context.Context, kind models.NotificationKind, tenantID uuid.UUID, tenantEmail string, data map[string]interface{}) {
	m.Called(ctx, kind, tenantID, tenantEmail, data)
}

type MockReceiptService struct {
	mock.Mock
}

func (m *MockReceiptService) StoreReceipt(ctx context.Context, entry *models.PaymentHistoryEntry, plan string) error {
	args := m.Called(ctx, entry, plan)
	return args.Error(0)
}

func (m *MockReceiptService) ReceiptURL(tenantID, historyID uuid.UUID, expiry time.Duration) (string, error) {
	args := m.Called(tenantID, historyID, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockReceiptService) EnsureBucket(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockChargeService struct {
	mock.Mock
}

func (m *MockChargeService) ChargeTenant(ctx context.Context, record *models.TenantBillingRecord) (*ChargeOutcome, error) {
	args := m.Called(ctx, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeOutcome), args.Error(1)
}

func (m *MockChargeService) ChargeNow(ctx context.Context, tenantID uuid.UUID) (*ChargeOutcome, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeOutcome), args.Error(1)
}

func (m *MockChargeService) SaveCard(ctx context.Context, tenantID uuid.UUID, cardNonce string) (*models.TenantBillingRecord, error) {
	args := m.Called(ctx, tenantID, cardNonce)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantBillingRecord), args.Error(1)
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
