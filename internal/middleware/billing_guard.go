package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dispatchly/internal/common"
	"dispatchly/internal/repositories"
	"dispatchly/internal/services"

	"github.com/labstack/echo/v4"
)

// billingAllowList is the set of route prefixes a blocked tenant may still
// reach: everything needed to resolve the block plus basic account access.
var billingAllowList = []string{
	"/v1/billing/status",
	"/v1/billing/plans",
	"/v1/billing/card",
	"/v1/billing/history",
	"/v1/me",
	"/v1/account",
}

// BillingGuard gates every authenticated request on the tenant's access
// decision: one ledger read plus a pure computation, never a gateway call.
// The decision is computed fresh per request and never cached, so a payment
// event is honored immediately. Any internal failure evaluating the decision
// fails open: a billing-subsystem outage must never lock every tenant out.
type BillingGuard struct {
	billingRepo repositories.BillingRepository
	billingSvc  services.BillingService
}

func NewBillingGuard(billingRepo repositories.BillingRepository, billingSvc services.BillingService) *BillingGuard {
	return &BillingGuard{
		billingRepo: billingRepo,
		billingSvc:  billingSvc,
	}
}

func onAllowList(path string) bool {
	for _, prefix := range billingAllowList {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *BillingGuard) Enforce() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			now := time.Now()

			tenantID, ok := common.GetTenantIDFromContext(ctx)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
			}
			isSuperAdmin := common.IsSuperAdminFromContext(ctx)

			record, err := g.billingRepo.GetRecord(ctx, tenantID)
			if err != nil && !errors.Is(err, repositories.ErrRecordNotFound) {
				// Deliberate fail-open, logged so the policy is auditable.
				log.Printf("[guard] failed to read billing record for tenant %s, failing open: %v", tenantID, err)
				return next(c)
			}

			decision := g.billingSvc.Decide(record, now, isSuperAdmin)

			if days, warn := g.billingSvc.TrialWarning(record, now); warn {
				c.Response().Header().Set("X-Trial-Days-Left", strconv.Itoa(days))
			}

			if decision.Allowed {
				return next(c)
			}

			if onAllowList(c.Request().URL.Path) {
				decision.OnAllowedRoute = true
				reqCtx := context.WithValue(ctx, common.BillingRestrictedKey, true)
				c.SetRequest(c.Request().WithContext(reqCtx))
				return next(c)
			}

			return c.JSON(http.StatusPaymentRequired, map[string]interface{}{
				"blocked_reason": decision.BlockedReason,
				"days_overdue":   decision.DaysOverdue,
				"message":        "Subscription payment required. Update your payment method to restore access.",
			})
		}
	}
}
