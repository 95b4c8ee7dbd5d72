package services

import (
	"context"
	"fmt"

	"github.com/dcurp/api/internal/metrics"
	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/repositories"
	"github.com/dcurp/api/internal/utils"
)

// LoginRequest is a password login for either scope.
type LoginRequest struct {
	Email      string
	Password   string
	Scope      models.TokenScope
	RememberMe bool
	Client     utils.ClientFingerprint
}

// AuthService authenticates credentials and opens sessions.
type AuthService interface {
	Login(ctx context.Context, req LoginRequest) (*TokenSet, *models.User, error)
}

type authService struct {
	userRepo     repositories.UserRepository
	tokenService TokenService
}

func NewAuthService(userRepo repositories.UserRepository, tokenService TokenService) AuthService {
	return &authService{userRepo: userRepo, tokenService: tokenService}
}

// dummyHash keeps the unknown-email path as slow as a real comparison.
var dummyHash, _ = utils.HashPassword("dcu-api-timing-equalizer")

func (s *authService) Login(ctx context.Context, req LoginRequest) (*TokenSet, *models.User, error) {
	scope := req.Scope
	if scope == "" {
		scope = models.ScopeUser
	}

	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues(string(scope), "error").Inc()
		return nil, nil, fmt.Errorf("lookup user by email: %w", err)
	}
	if user == nil {
		utils.CheckPasswordHash(req.Password, dummyHash)
		metrics.LoginAttemptsTotal.WithLabelValues(string(scope), "invalid_credentials").Inc()
		return nil, nil, utils.ErrInvalidCredentials
	}
	if !utils.CheckPasswordHash(req.Password, user.PasswordHash) {
		metrics.LoginAttemptsTotal.WithLabelValues(string(scope), "invalid_credentials").Inc()
		return nil, nil, utils.ErrInvalidCredentials
	}
	if !user.CanAuthenticate() {
		metrics.LoginAttemptsTotal.WithLabelValues(string(scope), "inactive").Inc()
		return nil, user, utils.ErrAccountInactive
	}
	if scope == models.ScopeAdmin && !user.IsAdmin {
		metrics.LoginAttemptsTotal.WithLabelValues(string(scope), "not_admin").Inc()
		return nil, user, utils.ErrNotAdmin
	}

	set, err := s.tokenService.Issue(ctx, IssueRequest{
		UserID:     user.ID,
		Scope:      scope,
		Client:     req.Client,
		RememberMe: req.RememberMe && scope == models.ScopeUser,
	})
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues(string(scope), "error").Inc()
		return nil, nil, err
	}

	metrics.LoginAttemptsTotal.WithLabelValues(string(scope), "success").Inc()
	utils.Logger.WithField("user_id", user.ID).Infof("User logged in (scope=%s, remember_me=%t)", scope, set.RememberMeToken != "")
	return set, user, nil
}
