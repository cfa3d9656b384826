package handlers

import (
	"log"
	"net/http"
	"strings"

	"dispatchly/internal/common"
	"dispatchly/internal/models"
	"dispatchly/internal/repositories"
	"dispatchly/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	authService services.AuthService
	billingSvc  services.BillingService
	userRepo    repositories.UserRepository
	tenantRepo  repositories.TenantRepository
}

func NewAuthHandlers(authService services.AuthService, billingSvc services.BillingService, userRepo repositories.UserRepository, tenantRepo repositories.TenantRepository) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		billingSvc:  billingSvc,
		userRepo:    userRepo,
		tenantRepo:  tenantRepo,
	}
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	services.TokenResponse
	User *models.User `json:"user"`
}

// Login handles user login with email and password
func (h *AuthHandlers) Login(c echo.Context) error {
	ctx := c.Request().Context()

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email and password are required")
	}

	user, err := h.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil || user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	tokenResponse, err := h.authService.GenerateToken(ctx, user.ID, user.TenantID, user.IsSuperAdmin)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}

	return c.JSON(http.StatusOK, LoginResponse{
		TokenResponse: *tokenResponse,
		User:          user,
	})
}

// SignupRequest represents the signup request payload
type SignupRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	CompanyName string `json:"company_name" validate:"required"`
	Subdomain   string `json:"subdomain"`
}

// SignupResponse represents the signup response
type SignupResponse struct {
	services.TokenResponse
	User   *models.User   `json:"user"`
	Tenant *models.Tenant `json:"tenant"`
}

// Signup registers a new tenant with its first admin user and provisions the
// trial billing record.
func (h *AuthHandlers) Signup(c echo.Context) error {
	ctx := c.Request().Context()

	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" || req.CompanyName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email, password, first_name, last_name and company_name are required")
	}
	if len(req.Password) < 6 {
		return echo.NewHTTPError(http.StatusBadRequest, "Password must be at least 6 characters")
	}

	subdomain := strings.ToLower(strings.TrimSpace(req.Subdomain))
	if subdomain == "" {
		subdomain = slugify(req.CompanyName)
	}

	tenant := &models.Tenant{
		ID:        uuid.New(),
		Name:      req.CompanyName,
		Subdomain: subdomain,
		Status:    "active",
	}
	if err := h.tenantRepo.Create(ctx, tenant); err != nil {
		log.Printf("Failed to create tenant: %v", err)
		return echo.NewHTTPError(http.StatusConflict, "Could not create tenant, subdomain may be taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process password")
	}

	user := &models.User{
		ID:           uuid.New(),
		TenantID:     tenant.ID,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Status:       "active",
	}
	if err := h.userRepo.Create(ctx, user); err != nil {
		log.Printf("Failed to create user: %v", err)
		return echo.NewHTTPError(http.StatusConflict, "Could not create user, email may be taken")
	}

	// Every new tenant starts on the default plan with a trial window.
	if _, err := h.billingSvc.Provision(ctx, tenant.ID); err != nil {
		log.Printf("Failed to provision billing record for tenant %s: %v", tenant.ID, err)
	}

	tokenResponse, err := h.authService.GenerateToken(ctx, user.ID, tenant.ID, user.IsSuperAdmin)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}

	return c.JSON(http.StatusCreated, SignupResponse{
		TokenResponse: *tokenResponse,
		User:          user,
		Tenant:        tenant,
	})
}

// Me returns the authenticated user. On the billing allow-list so blocked
// tenants can still see who they are logged in as.
func (h *AuthHandlers) Me(c echo.Context) error {
	ctx := c.Request().Context()
	userID, ok := common.GetUserIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not found")
	}
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
	}

	user, err := h.userRepo.GetByID(ctx, tenantID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	}
	return c.JSON(http.StatusOK, user)
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
