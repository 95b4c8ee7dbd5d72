package controllers

import (
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dcurp/api/internal/config"
	"github.com/dcurp/api/internal/dtos"
	"github.com/dcurp/api/internal/middleware"
	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/services"
	"github.com/dcurp/api/internal/utils"
)

type AdminAuthController struct {
	cfg          *config.Config
	authService  services.AuthService
	tokenService services.TokenService
	limiter      services.RateLimiterService
	auth         *AuthController
}

func NewAdminAuthController(
	cfg *config.Config,
	authService services.AuthService,
	tokenService services.TokenService,
	limiter services.RateLimiterService,
) *AdminAuthController {
	return &AdminAuthController{
		cfg:          cfg,
		authService:  authService,
		tokenService: tokenService,
		limiter:      limiter,
		auth:         &AuthController{cfg: cfg, tokenService: tokenService},
	}
}

func (c *AdminAuthController) LoginAdmin(w http.ResponseWriter, r *http.Request) {
	var req dtos.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	set, user, err := c.authService.Login(r.Context(), services.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		Scope:    models.ScopeAdmin,
		Client:   utils.GetClientFingerprint(r),
	})
	if err != nil {
		respondLoginError(w, err)
		return
	}

	setSessionCookies(w, c.cfg, set, adminCookiePath)
	utils.RespondWithJSON(w, http.StatusOK, dtos.LoginResponse{User: dtos.NewUserSummary(user)})
}

func (c *AdminAuthController) RefreshTokenAdmin(w http.ResponseWriter, r *http.Request) {
	refresh := utils.CookieValue(r, utils.RefreshTokenCookieName)
	if refresh == "" {
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, string(utils.TokenRequired), "Missing refresh cookie", nil)
		return
	}

	set, err := c.tokenService.RotateRefresh(r.Context(), refresh, models.ScopeAdmin, utils.GetClientFingerprint(r))
	if err != nil {
		utils.RespondTokenError(w, err)
		return
	}

	setSessionCookies(w, c.cfg, set, adminCookiePath)
	utils.RespondWithJSON(w, http.StatusOK, dtos.SessionRenewedResponse{Message: "Session refreshed"})
}

func (c *AdminAuthController) LogoutAdmin(w http.ResponseWriter, r *http.Request) {
	c.auth.logout(w, r, models.ScopeAdmin, adminCookiePath)
}

// AddToBlacklist handles POST /auth/v1/admin/blacklist.
func (c *AdminAuthController) AddToBlacklist(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req dtos.BlacklistRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := c.limiter.AddToBlacklist(r.Context(), req.IP); err != nil {
		utils.RespondErrorWithCode(w, http.StatusServiceUnavailable, utils.ErrCodeServiceUnavailable, "Rate limit store unavailable", nil, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.BlacklistResponse{IP: req.IP, Blacklisted: true})
}

// RemoveFromBlacklist handles DELETE /auth/v1/admin/blacklist/{ip}.
func (c *AdminAuthController) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	ip := mux.Vars(r)["ip"]
	if net.ParseIP(ip) == nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid IP address", nil)
		return
	}

	if err := c.limiter.RemoveFromBlacklist(r.Context(), ip); err != nil {
		utils.RespondErrorWithCode(w, http.StatusServiceUnavailable, utils.ErrCodeServiceUnavailable, "Rate limit store unavailable", nil, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.BlacklistResponse{IP: ip, Blacklisted: false})
}

// requireAdmin re-checks the admin bit; an admin token outlives a demotion.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	user := middleware.UserFromContext(r.Context())
	if user == nil || !user.IsAdmin {
		utils.RespondErrorWithCode(w, http.StatusForbidden, utils.ErrCodeForbidden, "Insufficient permissions", nil)
		return false
	}
	return true
}
