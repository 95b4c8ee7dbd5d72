package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dcurp/api/internal/config"
	"github.com/dcurp/api/internal/metrics"
	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/repositories"
	"github.com/dcurp/api/internal/utils"
)

// ---------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------

// IssueRequest describes a new login session.
type IssueRequest struct {
	UserID     uuid.UUID
	Scope      models.TokenScope
	Client     utils.ClientFingerprint
	RememberMe bool
	// Version of the remember-me chain; 0 means a fresh chain (1).
	Version int
}

// TokenSet is what a login or rotation hands back to the client.
type TokenSet struct {
	AccessToken         string
	RefreshToken        string
	RememberMeToken     string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	RememberMeTTL       time.Duration
	RememberMeExpiresAt *time.Time
	Record              *models.TokenRecord
}

// AccessCheck carries the optional ownership and binding constraints for
// ValidateAccess. Empty fields are not checked.
type AccessCheck struct {
	Scope     models.TokenScope
	Email     string
	IP        string
	UserAgent string
}

// AccessValidation is a successful ValidateAccess outcome.
type AccessValidation struct {
	User   *models.User
	Status utils.UserStatus
	Claims *TokenClaims
	Record *models.TokenRecord
}

// SessionValidation is a successful refresh or remember-me validation.
type SessionValidation struct {
	User   *models.User
	Record *models.TokenRecord
	Claims *TokenClaims
}

// RevokeRequest lists the tokens a logout presents. AccessToken is
// required; the others are optional.
type RevokeRequest struct {
	Scope           models.TokenScope
	AccessToken     string
	RefreshToken    string
	RememberMeToken string
}

// ---------------------------------------------------------------------
// TokenService interface
// ---------------------------------------------------------------------

// TokenService issues, validates, rotates and revokes sessions. Recoverable
// failures are *utils.TokenError values; any other error is a storage or
// signing fault.
type TokenService interface {
	Issue(ctx context.Context, req IssueRequest) (*TokenSet, error)

	ValidateAccess(ctx context.Context, token string, check AccessCheck) (*AccessValidation, error)
	ValidateRefresh(ctx context.Context, token string, scope models.TokenScope) (*SessionValidation, error)
	ValidateRememberMe(ctx context.Context, token string) (*SessionValidation, error)

	// RotateRefresh swaps a refresh token for a new pair issued to client.
	// The chain version is kept.
	RotateRefresh(ctx context.Context, token string, scope models.TokenScope, client utils.ClientFingerprint) (*TokenSet, error)
	// RotateRememberMe redeems a remember-me token for a fresh session with
	// a new remember-me token and the next chain version.
	RotateRememberMe(ctx context.Context, token string, client utils.ClientFingerprint) (*TokenSet, error)

	RevokeUserTokens(ctx context.Context, req RevokeRequest) (int64, error)
	RevokeRememberMeToken(ctx context.Context, token string) error
	RevokeAllRememberMeTokens(ctx context.Context, userID uuid.UUID) (int64, error)
}

// ---------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------

type tokenService struct {
	cfg       *config.Config
	codec     TokenCodec
	tokenRepo repositories.TokenRepository
	userRepo  repositories.UserRepository
	now       func() time.Time
}

func NewTokenService(
	cfg *config.Config,
	codec TokenCodec,
	tokenRepo repositories.TokenRepository,
	userRepo repositories.UserRepository,
) TokenService {
	return &tokenService{
		cfg:       cfg,
		codec:     codec,
		tokenRepo: tokenRepo,
		userRepo:  userRepo,
		now:       time.Now,
	}
}

func (s *tokenService) ttls(scope models.TokenScope) (access, refresh time.Duration) {
	if scope == models.ScopeAdmin {
		return s.cfg.AdminTokenExpiry, s.cfg.AdminRefreshTokenExpiry
	}
	return s.cfg.TokenExpiry, s.cfg.RefreshTokenExpiry
}

// ---------------------------------------------------------------------
// Issue
// ---------------------------------------------------------------------

func (s *tokenService) Issue(ctx context.Context, req IssueRequest) (*TokenSet, error) {
	set, err := s.newTokenSet(req)
	if err != nil {
		return nil, err
	}
	if err := s.tokenRepo.Create(ctx, set.Record); err != nil {
		return nil, fmt.Errorf("persist token record: %w", err)
	}
	return set, nil
}

// newTokenSet signs the tokens and builds the unsaved record.
func (s *tokenService) newTokenSet(req IssueRequest) (*TokenSet, error) {
	if req.Scope == "" {
		req.Scope = models.ScopeUser
	}
	if req.Version <= 0 {
		req.Version = 1
	}
	if req.RememberMe && req.Scope != models.ScopeUser {
		return nil, errors.New("remember-me is only available for user sessions")
	}

	accessTTL, refreshTTL := s.ttls(req.Scope)

	access, err := s.codec.Sign(req.UserID, req.Scope.AccessType(), accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.codec.Sign(req.UserID, req.Scope.RefreshType(), refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	rec := &models.TokenRecord{
		ID:           uuid.New(),
		UserID:       req.UserID,
		Scope:        req.Scope,
		AccessToken:  access,
		RefreshToken: refresh,
		IPAddress:    req.Client.IP,
		UserAgent:    req.Client.UserAgent,
		TokenVersion: req.Version,
	}
	set := &TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessTTL:    accessTTL,
		RefreshTTL:   refreshTTL,
		Record:       rec,
	}

	if req.RememberMe {
		remember, err := s.codec.Sign(req.UserID, models.TokenTypeRememberMe, s.cfg.RememberMeTokenExpiry)
		if err != nil {
			return nil, fmt.Errorf("sign remember-me token: %w", err)
		}
		// Wall-clock deadline, enforced independently of the token's exp.
		deadline := s.now().Add(s.cfg.RememberMeSessionExpiry)

		rec.RememberMeToken = &remember
		rec.IsRememberMeToken = true
		rec.RememberMeExpiresAt = &deadline

		set.RememberMeToken = remember
		set.RememberMeTTL = s.cfg.RememberMeTokenExpiry
		set.RememberMeExpiresAt = &deadline
	}
	return set, nil
}

// ---------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------

// verifyTyped runs the cheap checks: presence, signature, type and age.
func (s *tokenService) verifyTyped(token string, expected models.TokenType) (*TokenClaims, uuid.UUID, error) {
	return s.checkTyped(token, expected, s.codec.Verify)
}

// verifyStructure is verifyTyped without the exp check. Max age still
// applies.
func (s *tokenService) verifyStructure(token string, expected models.TokenType) (*TokenClaims, uuid.UUID, error) {
	return s.checkTyped(token, expected, s.codec.VerifyIgnoringExpiry)
}

func (s *tokenService) checkTyped(
	token string,
	expected models.TokenType,
	verify func(string) (*TokenClaims, error),
) (*TokenClaims, uuid.UUID, error) {
	if strings.TrimSpace(token) == "" {
		return nil, uuid.Nil, utils.NewTokenError(utils.TokenRequired, nil, nil)
	}

	claims, err := verify(token)
	if err != nil {
		if errors.Is(err, ErrCodecExpired) {
			return nil, uuid.Nil, utils.NewTokenError(utils.TokenExpired, nil, err)
		}
		return nil, uuid.Nil, utils.NewTokenError(utils.TokenInvalidStructure, nil, err)
	}
	if claims.Type != expected {
		return nil, uuid.Nil, utils.NewTokenError(utils.TokenInvalidStructure, nil,
			fmt.Errorf("expected %s token, got %s", expected, claims.Type))
	}

	if s.now().Sub(claims.IssuedAtTime()) > s.cfg.MaxTokenAge {
		return nil, uuid.Nil, utils.NewTokenError(utils.TokenMaxAgeExceeded, nil, nil)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, uuid.Nil, utils.NewTokenError(utils.TokenInvalidStructure, nil, err)
	}
	return claims, userID, nil
}

type recordLookup func(ctx context.Context, userID uuid.UUID, raw string) (*models.TokenRecord, error)

// loadUserAndRecord fetches the user and the active record concurrently.
func (s *tokenService) loadUserAndRecord(
	ctx context.Context,
	userID uuid.UUID,
	token string,
	lookup recordLookup,
) (*models.User, *models.TokenRecord, error) {
	var (
		user *models.User
		rec  *models.TokenRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.userRepo.GetByID(gctx, userID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		r, err := lookup(gctx, userID, token)
		if err != nil {
			return fmt.Errorf("load token record: %w", err)
		}
		rec = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return user, rec, nil
}

func statusOf(u *models.User, tokenStatus string) *utils.UserStatus {
	return &utils.UserStatus{
		IsActive:    u.IsActive,
		IsVerified:  u.IsEmailVerified,
		TokenStatus: tokenStatus,
	}
}

func (s *tokenService) ValidateAccess(ctx context.Context, token string, check AccessCheck) (*AccessValidation, error) {
	scope := check.Scope
	if scope == "" {
		scope = models.ScopeUser
	}
	kind := string(scope.AccessType())

	res, err := s.validateAccess(ctx, token, scope, check)
	recordValidation(kind, err)
	return res, err
}

func (s *tokenService) validateAccess(ctx context.Context, token string, scope models.TokenScope, check AccessCheck) (*AccessValidation, error) {
	claims, userID, err := s.verifyTyped(token, scope.AccessType())
	if err != nil {
		return nil, err
	}

	user, rec, err := s.loadUserAndRecord(ctx, userID, token, s.tokenRepo.FindActiveByAccessToken)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, utils.NewTokenError(utils.TokenUserNotFound, nil, nil)
	}
	invalid := statusOf(user, utils.TokenStatusInvalid)

	if check.Email != "" && !strings.EqualFold(strings.TrimSpace(check.Email), user.Email) {
		return nil, utils.NewTokenError(utils.TokenOwnershipMismatch, invalid, nil)
	}
	if !user.CanAuthenticate() {
		return nil, utils.NewTokenError(utils.TokenAccountInactive, invalid, nil)
	}
	if rec == nil {
		return nil, utils.NewTokenError(utils.TokenRevoked, invalid, nil)
	}
	// IP is checked before the user agent so it wins when both differ.
	if s.cfg.LDFlag_EnforceIPBinding && check.IP != "" && rec.IPAddress != check.IP {
		return nil, utils.NewTokenError(utils.TokenIPMismatch, invalid, nil)
	}
	if s.cfg.LDFlag_EnforceDeviceBinding && check.UserAgent != "" && rec.UserAgent != check.UserAgent {
		return nil, utils.NewTokenError(utils.TokenDeviceMismatch, invalid, nil)
	}

	return &AccessValidation{
		User:   user,
		Status: *statusOf(user, utils.TokenStatusValid),
		Claims: claims,
		Record: rec,
	}, nil
}

func (s *tokenService) ValidateRefresh(ctx context.Context, token string, scope models.TokenScope) (*SessionValidation, error) {
	if scope == "" {
		scope = models.ScopeUser
	}
	res, err := s.validateSession(ctx, token, scope.RefreshType(), s.tokenRepo.FindActiveByRefreshToken)
	recordValidation(string(scope.RefreshType()), err)
	return res, err
}

func (s *tokenService) ValidateRememberMe(ctx context.Context, token string) (*SessionValidation, error) {
	res, err := s.validateSession(ctx, token, models.TokenTypeRememberMe, s.tokenRepo.FindActiveByRememberMeToken)
	if err == nil && res.Record.RememberMeExpired(s.now()) {
		res, err = nil, utils.NewTokenError(utils.TokenRememberMeExpired, statusOf(res.User, utils.TokenStatusInvalid), nil)
	}
	recordValidation(string(models.TokenTypeRememberMe), err)
	return res, err
}

// validateSession checks a refresh or remember-me token. Possession of the
// token is what is being proven, so no ownership or binding checks apply.
func (s *tokenService) validateSession(ctx context.Context, token string, expected models.TokenType, lookup recordLookup) (*SessionValidation, error) {
	claims, userID, err := s.verifyTyped(token, expected)
	if err != nil {
		return nil, err
	}

	user, rec, err := s.loadUserAndRecord(ctx, userID, token, lookup)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, utils.NewTokenError(utils.TokenUserNotFound, nil, nil)
	}
	invalid := statusOf(user, utils.TokenStatusInvalid)
	if !user.CanAuthenticate() {
		return nil, utils.NewTokenError(utils.TokenAccountInactive, invalid, nil)
	}
	if rec == nil {
		return nil, utils.NewTokenError(utils.TokenRevoked, invalid, nil)
	}
	return &SessionValidation{User: user, Record: rec, Claims: claims}, nil
}

// ---------------------------------------------------------------------
// Rotation
// ---------------------------------------------------------------------

func (s *tokenService) RotateRefresh(ctx context.Context, token string, scope models.TokenScope, client utils.ClientFingerprint) (*TokenSet, error) {
	if scope == "" {
		scope = models.ScopeUser
	}
	kind := string(scope.RefreshType())

	session, err := s.ValidateRefresh(ctx, token, scope)
	if err != nil {
		metrics.TokenRotationsTotal.WithLabelValues(kind, "rejected").Inc()
		return nil, err
	}

	set, err := s.rotate(ctx, session, IssueRequest{
		UserID:  session.User.ID,
		Scope:   scope,
		Client:  client,
		Version: session.Record.TokenVersion,
	})
	metrics.TokenRotationsTotal.WithLabelValues(kind, outcomeLabel(err)).Inc()
	return set, err
}

func (s *tokenService) RotateRememberMe(ctx context.Context, token string, client utils.ClientFingerprint) (*TokenSet, error) {
	kind := string(models.TokenTypeRememberMe)

	session, err := s.ValidateRememberMe(ctx, token)
	if err != nil {
		metrics.TokenRotationsTotal.WithLabelValues(kind, "rejected").Inc()
		return nil, err
	}

	set, err := s.rotate(ctx, session, IssueRequest{
		UserID:     session.User.ID,
		Scope:      models.ScopeUser,
		Client:     client,
		RememberMe: true,
		Version:    session.Record.TokenVersion + 1,
	})
	metrics.TokenRotationsTotal.WithLabelValues(kind, outcomeLabel(err)).Inc()
	return set, err
}

// rotate issues the replacement and revokes the presented record in one
// storage transaction.
func (s *tokenService) rotate(ctx context.Context, session *SessionValidation, req IssueRequest) (*TokenSet, error) {
	set, err := s.newTokenSet(req)
	if err != nil {
		return nil, err
	}

	stored, err := s.tokenRepo.ReplaceRecord(ctx, set.Record, session.Record.ID)
	if err != nil {
		if errors.Is(err, utils.ErrTokenRevoked) {
			// Lost a race with a concurrent rotation or logout.
			return nil, utils.NewTokenError(utils.TokenRevoked, statusOf(session.User, utils.TokenStatusInvalid), nil)
		}
		return nil, fmt.Errorf("replace token record: %w", err)
	}

	// The remember-me chain survives a refresh rotation.
	set.Record = stored
	if set.RememberMeToken == "" && stored.RememberMeExpiresAt != nil {
		set.RememberMeExpiresAt = stored.RememberMeExpiresAt
	}
	return set, nil
}

// ---------------------------------------------------------------------
// Revocation
// ---------------------------------------------------------------------

func (s *tokenService) RevokeUserTokens(ctx context.Context, req RevokeRequest) (int64, error) {
	scope := req.Scope
	if scope == "" {
		scope = models.ScopeUser
	}

	// Signature, type and age only. An expired access token still logs out
	// the refresh and remember-me tokens of its session.
	_, userID, err := s.verifyStructure(req.AccessToken, scope.AccessType())
	if err != nil {
		return 0, err
	}

	records, err := s.tokenRepo.FindActiveByTokens(ctx, userID,
		[]string{req.AccessToken, req.RefreshToken, req.RememberMeToken})
	if err != nil {
		return 0, fmt.Errorf("find tokens to revoke: %w", err)
	}
	if len(records) == 0 {
		return 0, utils.NewTokenError(utils.TokenNoTokensFound, nil, nil)
	}

	ids := make([]uuid.UUID, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	revoked, err := s.tokenRepo.RevokeRecords(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("revoke tokens: %w", err)
	}
	if revoked == 0 {
		return 0, utils.NewTokenError(utils.TokenNoTokensFound, nil, nil)
	}

	utils.Logger.WithField("user_id", userID).Infof("Revoked %d token record(s)", revoked)
	return revoked, nil
}

func (s *tokenService) RevokeRememberMeToken(ctx context.Context, token string) error {
	_, userID, err := s.verifyStructure(token, models.TokenTypeRememberMe)
	if err != nil {
		return err
	}

	rec, err := s.tokenRepo.FindActiveByRememberMeToken(ctx, userID, token)
	if err != nil {
		return fmt.Errorf("find remember-me token: %w", err)
	}
	if rec == nil {
		return utils.NewTokenError(utils.TokenRememberMeNotFound, nil, nil)
	}

	revoked, err := s.tokenRepo.RevokeRecords(ctx, []uuid.UUID{rec.ID})
	if err != nil {
		return fmt.Errorf("revoke remember-me token: %w", err)
	}
	if revoked == 0 {
		return utils.NewTokenError(utils.TokenRememberMeNotFound, nil, nil)
	}
	return nil
}

func (s *tokenService) RevokeAllRememberMeTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	revoked, err := s.tokenRepo.RevokeAllRememberMeByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke remember-me tokens: %w", err)
	}
	if revoked == 0 {
		return 0, utils.NewTokenError(utils.TokenRememberMeNotFound, nil, nil)
	}
	utils.Logger.WithField("user_id", userID).Infof("Revoked %d remember-me session(s)", revoked)
	return revoked, nil
}

// ---------------------------------------------------------------------
// Metrics helpers
// ---------------------------------------------------------------------

func recordValidation(kind string, err error) {
	metrics.TokenValidationsTotal.WithLabelValues(kind, validationOutcome(err)).Inc()
}

func validationOutcome(err error) string {
	if err == nil {
		return utils.TokenStatusValid
	}
	if tokErr, ok := utils.AsTokenError(err); ok {
		return string(tokErr.Code)
	}
	return "error"
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if _, ok := utils.AsTokenError(err); ok {
		return "rejected"
	}
	return "error"
}
