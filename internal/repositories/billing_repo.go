package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dispatchly/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Database is the subset of pgxpool.Pool the repositories need. Tests
// substitute a pgxmock pool for it.
type Database interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// ErrRecordNotFound is returned when a tenant has no billing record yet.
// Callers decide whether that fails open (access guard) or is an input error
// (charge orchestration).
var ErrRecordNotFound = errors.New("billing record not found")

// BillingRepository is the billing ledger: per-tenant subscription state plus
// the append-only payment history. No business logic lives here.
type BillingRepository interface {
	CreateRecord(ctx context.Context, record *models.TenantBillingRecord) error
	GetRecord(ctx context.Context, tenantID uuid.UUID) (*models.TenantBillingRecord, error)
	UpdateRecord(ctx context.Context, tenantID uuid.UUID, patch models.BillingPatch) error
	AppendHistory(ctx context.Context, entry *models.PaymentHistoryEntry) error
	GetHistoryEntry(ctx context.Context, tenantID, id uuid.UUID) (*models.PaymentHistoryEntry, error)
	GetHistoryByCycleKey(ctx context.Context, tenantID uuid.UUID, cycleKey string) (*models.PaymentHistoryEntry, error)
	ListHistory(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.PaymentHistoryEntry, error)
	ListDueForCharge(ctx context.Context, now time.Time) ([]*models.TenantBillingRecord, error)
	ListTrialsExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*models.TenantBillingRecord, error)
	ListTrialsExpiredWithin(ctx context.Context, now time.Time, lookback time.Duration) ([]*models.TenantBillingRecord, error)
}

type billingRepo struct {
	db Database
}

func NewBillingRepo(db Database) BillingRepository {
	return &billingRepo{db: db}
}

const billingRecordColumns = "tenant_id, plan, subscription_status, trial_ends_at, gateway_customer_id, gateway_card_id, card_last4, is_super_admin_owned, created_at, updated_at"

func (r *billingRepo) CreateRecord(ctx context.Context, record *models.TenantBillingRecord) error {
	query := `
		INSERT INTO tenant_billing_records (tenant_id, plan, subscription_status, trial_ends_at, gateway_customer_id, gateway_card_id, card_last4, is_super_admin_owned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (tenant_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, record.TenantID, record.Plan, record.SubscriptionStatus, record.TrialEndsAt, record.GatewayCustomerID, record.GatewayCardID, record.CardLast4, record.IsSuperAdminOwned)
	return err
}

func (r *billingRepo) GetRecord(ctx context.Context, tenantID uuid.UUID) (*models.TenantBillingRecord, error) {
	record := &models.TenantBillingRecord{}
	query := `
		SELECT ` + billingRecordColumns + `
		FROM tenant_billing_records
		WHERE tenant_id = $1
	`
	err := r.db.QueryRow(ctx, query, tenantID).Scan(&record.TenantID, &record.Plan, &record.SubscriptionStatus, &record.TrialEndsAt, &record.GatewayCustomerID, &record.GatewayCardID, &record.CardLast4, &record.IsSuperAdminOwned, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return record, nil
}

// UpdateRecord writes only the fields set on the patch. Concurrent writers
// touching disjoint field sets do not clobber each other.
func (r *billingRepo) UpdateRecord(ctx context.Context, tenantID uuid.UUID, patch models.BillingPatch) error {
	sets := []string{}
	args := []interface{}{}
	arg := 1

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, arg))
		args = append(args, value)
		arg++
	}

	if patch.Plan != nil {
		add("plan", *patch.Plan)
	}
	if patch.SubscriptionStatus != nil {
		add("subscription_status", *patch.SubscriptionStatus)
	}
	if patch.TrialEndsAt != nil {
		add("trial_ends_at", *patch.TrialEndsAt)
	}
	if patch.GatewayCustomerID != nil {
		add("gateway_customer_id", *patch.GatewayCustomerID)
	}
	if patch.GatewayCardID != nil {
		add("gateway_card_id", *patch.GatewayCardID)
	}
	if patch.CardLast4 != nil {
		add("card_last4", *patch.CardLast4)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	args = append(args, tenantID)
	query := fmt.Sprintf("UPDATE tenant_billing_records SET %s WHERE tenant_id = $%d", strings.Join(sets, ", "), arg)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *billingRepo) AppendHistory(ctx context.Context, entry *models.PaymentHistoryEntry) error {
	query := `
		INSERT INTO payment_history (id, tenant_id, amount_cents, status, gateway_payment_id, description, cycle_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := r.db.Exec(ctx, query, entry.ID, entry.TenantID, entry.AmountCents, entry.Status, entry.GatewayPaymentID, entry.Description, entry.CycleKey)
	return err
}

func (r *billingRepo) GetHistoryEntry(ctx context.Context, tenantID, id uuid.UUID) (*models.PaymentHistoryEntry, error) {
	entry := &models.PaymentHistoryEntry{}
	query := `
		SELECT id, tenant_id, amount_cents, status, gateway_payment_id, description, cycle_key, created_at
		FROM payment_history
		WHERE tenant_id = $1 AND id = $2
	`
	err := r.db.QueryRow(ctx, query, tenantID, id).Scan(&entry.ID, &entry.TenantID, &entry.AmountCents, &entry.Status, &entry.GatewayPaymentID, &entry.Description, &entry.CycleKey, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return entry, nil
}

// GetHistoryByCycleKey returns the recorded outcome of a billing cycle, or
// ErrRecordNotFound when the cycle has not been charged yet. The oldest entry
// wins so a replay always sees the original outcome.
func (r *billingRepo) GetHistoryByCycleKey(ctx context.Context, tenantID uuid.UUID, cycleKey string) (*models.PaymentHistoryEntry, error) {
	entry := &models.PaymentHistoryEntry{}
	query := `
		SELECT id, tenant_id, amount_cents, status, gateway_payment_id, description, cycle_key, created_at
		FROM payment_history
		WHERE tenant_id = $1 AND cycle_key = $2
		ORDER BY created_at ASC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, tenantID, cycleKey).Scan(&entry.ID, &entry.TenantID, &entry.AmountCents, &entry.Status, &entry.GatewayPaymentID, &entry.Description, &entry.CycleKey, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (r *billingRepo) ListHistory(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.PaymentHistoryEntry, error) {
	query := `
		SELECT id, tenant_id, amount_cents, status, gateway_payment_id, description, cycle_key, created_at
		FROM payment_history
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.PaymentHistoryEntry
	for rows.Next() {
		entry := &models.PaymentHistoryEntry{}
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.AmountCents, &entry.Status, &entry.GatewayPaymentID, &entry.Description, &entry.CycleKey, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListDueForCharge returns tenants whose paid-through date has passed and who
// have a card on file. payment_failed tenants stay in the due set so the next
// sweep retries them; cancelled and super-admin-owned tenants never appear.
func (r *billingRepo) ListDueForCharge(ctx context.Context, now time.Time) ([]*models.TenantBillingRecord, error) {
	query := `
		SELECT ` + billingRecordColumns + `
		FROM tenant_billing_records
		WHERE subscription_status IN ($1, $2)
		  AND gateway_card_id IS NOT NULL
		  AND trial_ends_at < $3
		  AND is_super_admin_owned = FALSE
		ORDER BY trial_ends_at ASC
	`
	return r.queryRecords(ctx, query, models.StatusTrial, models.StatusPaymentFailed, now)
}

// ListTrialsExpiringWithin returns unexpired trials whose end date falls
// inside the window, for advisory reminder notifications.
func (r *billingRepo) ListTrialsExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*models.TenantBillingRecord, error) {
	query := `
		SELECT ` + billingRecordColumns + `
		FROM tenant_billing_records
		WHERE subscription_status = $1
		  AND trial_ends_at >= $2
		  AND trial_ends_at < $3
		  AND is_super_admin_owned = FALSE
		ORDER BY trial_ends_at ASC
	`
	return r.queryRecords(ctx, query, models.StatusTrial, now, now.Add(window))
}

// ListTrialsExpiredWithin returns trials that lapsed inside the lookback
// window with no card on file. Tenants with a card are handled by the charge
// sweep instead.
func (r *billingRepo) ListTrialsExpiredWithin(ctx context.Context, now time.Time, lookback time.Duration) ([]*models.TenantBillingRecord, error) {
	query := `
		SELECT ` + billingRecordColumns + `
		FROM tenant_billing_records
		WHERE subscription_status = $1
		  AND gateway_card_id IS NULL
		  AND trial_ends_at >= $2
		  AND trial_ends_at < $3
		  AND is_super_admin_owned = FALSE
		ORDER BY trial_ends_at ASC
	`
	return r.queryRecords(ctx, query, models.StatusTrial, now.Add(-lookback), now)
}

func (r *billingRepo) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.TenantBillingRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TenantBillingRecord
	for rows.Next() {
		record := &models.TenantBillingRecord{}
		if err := rows.Scan(&record.TenantID, &record.Plan, &record.SubscriptionStatus, &record.TrialEndsAt, &record.GatewayCustomerID, &record.GatewayCardID, &record.CardLast4, &record.IsSuperAdminOwned, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
