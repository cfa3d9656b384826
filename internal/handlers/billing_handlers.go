package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"dispatchly/internal/caching"
	"dispatchly/internal/common"
	"dispatchly/internal/models"
	"dispatchly/internal/repositories"
	"dispatchly/internal/services"

	"github.com/labstack/echo/v4"
)

// manual charge rate limit: per tenant, per hour
const (
	chargeRateLimit  = 5
	chargeRateWindow = time.Hour

	receiptURLExpiry = 15 * time.Minute
)

// BillingHandlers exposes the billing engine over HTTP.
type BillingHandlers struct {
	billingSvc  services.BillingService
	chargeSvc   services.ChargeService
	sweepSvc    services.SweepService
	receiptSvc  services.ReceiptService
	cacheSvc    caching.CacheService
	billingRepo repositories.BillingRepository
}

func NewBillingHandlers(
	billingSvc services.BillingService,
	chargeSvc services.ChargeService,
	sweepSvc services.SweepService,
	receiptSvc services.ReceiptService,
	cacheSvc caching.CacheService,
	billingRepo repositories.BillingRepository,
) *BillingHandlers {
	return &BillingHandlers{
		billingSvc:  billingSvc,
		chargeSvc:   chargeSvc,
		sweepSvc:    sweepSvc,
		receiptSvc:  receiptSvc,
		cacheSvc:    cacheSvc,
		billingRepo: billingRepo,
	}
}

// GetStatus handles GET /v1/billing/status
func (h *BillingHandlers) GetStatus(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
	}

	status, err := h.billingSvc.GetStatus(ctx, tenantID, time.Now(), common.IsSuperAdminFromContext(ctx))
	if err != nil {
		if errors.Is(err, repositories.ErrRecordNotFound) {
			return common.SendNotFoundError(c, "Billing record")
		}
		return common.SendServerError(c, "Failed to load billing status")
	}
	return c.JSON(http.StatusOK, status)
}

// GetPlans handles GET /v1/billing/plans
func (h *BillingHandlers) GetPlans(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"plans": h.billingSvc.AvailablePlans(),
	})
}

// SaveCard handles POST /v1/billing/card: the card tokenization entry
// point. Allow-listed so blocked tenants can resolve their block.
func (h *BillingHandlers) SaveCard(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
	}

	var req struct {
		CardNonce string `json:"card_nonce"`
	}
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request format")
	}
	if req.CardNonce == "" {
		return common.SendClientError(c, "card_nonce is required")
	}

	record, err := h.chargeSvc.SaveCard(ctx, tenantID, req.CardNonce)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrRecordNotFound):
			return common.SendNotFoundError(c, "Billing record")
		case errors.Is(err, services.ErrSubscriptionCancelled):
			return common.SendClientError(c, "Subscription is cancelled")
		case errors.Is(err, services.ErrGatewayUnavailable):
			return c.JSON(http.StatusServiceUnavailable, common.CreateErrorResponse("GATEWAY_UNAVAILABLE", "Payment gateway is temporarily unavailable", nil))
		default:
			return common.SendServerError(c, "Failed to save card")
		}
	}
	return c.JSON(http.StatusOK, record)
}

// ListHistory handles GET /v1/billing/history
func (h *BillingHandlers) ListHistory(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	entries, err := h.billingRepo.ListHistory(ctx, tenantID, limit, offset)
	if err != nil {
		return common.SendServerError(c, "Failed to load payment history")
	}
	if entries == nil {
		entries = []*models.PaymentHistoryEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"history": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

// ChargeNow handles POST /v1/billing/charge: the manual admin charge
// trigger, with the same idempotency and state guarantees as the sweep.
func (h *BillingHandlers) ChargeNow(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
	}
	// An absent tenant_id targets the caller's own tenant; a malformed one is
	// rejected, never silently remapped.
	if raw := c.QueryParam("tenant_id"); raw != "" {
		target, err := common.ValidateUUID(raw, "tenant_id")
		if err != nil {
			return common.SendClientError(c, err.Error())
		}
		tenantID = target
	}

	rateKey := "charge-now:" + tenantID.String()
	limited, rlErr := h.cacheSvc.IsRateLimited(ctx, rateKey, chargeRateLimit, chargeRateWindow)
	if rlErr == nil && limited {
		return c.JSON(http.StatusTooManyRequests, common.CreateErrorResponse("RATE_LIMITED", "Too many charge attempts for this tenant", nil))
	}
	_ = h.cacheSvc.IncrementRateLimit(ctx, rateKey, chargeRateWindow)

	outcome, err := h.chargeSvc.ChargeNow(ctx, tenantID)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrRecordNotFound):
			return common.SendNotFoundError(c, "Billing record")
		case errors.Is(err, services.ErrSubscriptionCancelled):
			return common.SendClientError(c, "Subscription is cancelled")
		case errors.Is(err, services.ErrNoCardOnFile):
			return common.SendClientError(c, "Tenant has no card on file")
		case errors.Is(err, services.ErrNoBillingCycle):
			return common.SendClientError(c, "Tenant has no billing cycle to charge")
		case errors.Is(err, services.ErrGatewayUnavailable):
			return c.JSON(http.StatusServiceUnavailable, common.CreateErrorResponse("GATEWAY_UNAVAILABLE", "Payment gateway is temporarily unavailable; no charge was recorded", nil))
		default:
			return common.SendServerError(c, "Charge failed")
		}
	}
	return c.JSON(http.StatusOK, outcome)
}

// Cancel handles POST /v1/billing/cancel
func (h *BillingHandlers) Cancel(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
	}
	if raw := c.QueryParam("tenant_id"); raw != "" {
		target, err := common.ValidateUUID(raw, "tenant_id")
		if err != nil {
			return common.SendClientError(c, err.Error())
		}
		tenantID = target
	}

	if err := h.billingSvc.Cancel(ctx, tenantID); err != nil {
		if errors.Is(err, repositories.ErrRecordNotFound) {
			return common.SendNotFoundError(c, "Billing record")
		}
		return common.SendServerError(c, "Failed to cancel subscription")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

// RunSweep handles POST /v1/billing/sweep: manual trigger of the batch run.
func (h *BillingHandlers) RunSweep(c echo.Context) error {
	report, err := h.sweepSvc.RunSweep(c.Request().Context(), time.Now())
	if err != nil {
		return common.SendServerError(c, "Sweep failed to start")
	}
	return c.JSON(http.StatusOK, report)
}

// GetReceiptURL handles GET /v1/billing/receipts/:id/url
func (h *BillingHandlers) GetReceiptURL(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
	}

	historyID, err := common.ValidateUUID(c.Param("id"), "id")
	if err != nil {
		return common.SendClientError(c, err.Error())
	}

	// Receipts only exist for successful charges, and only for this tenant.
	entry, err := h.billingRepo.GetHistoryEntry(ctx, tenantID, historyID)
	if err != nil {
		return common.SendNotFoundError(c, "Receipt")
	}
	if entry.Status != models.PaymentSucceeded {
		return common.SendNotFoundError(c, "Receipt")
	}

	url, err := h.receiptSvc.ReceiptURL(tenantID, historyID, receiptURLExpiry)
	if err != nil {
		return common.SendNotFoundError(c, "Receipt")
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}
