package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/dcurp/api/internal/config"
	"github.com/dcurp/api/internal/routes"
	"github.com/dcurp/api/internal/services"
	"github.com/dcurp/api/internal/utils"
)

var validate = validator.New()

// Long-lived cookies are scoped to the API prefix so refresh, remember-me
// and logout endpoints all receive them.
const (
	userCookiePath  = routes.AuthBase
	adminCookiePath = routes.AuthBase + "/admin"
)

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the 400 response itself and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid request", nil, err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Validation error", nil, err)
		return false
	}
	return true
}

func setSessionCookies(w http.ResponseWriter, cfg *config.Config, set *services.TokenSet, path string) {
	utils.SetAuthCookies(w, utils.SessionCookies{
		AccessToken:     set.AccessToken,
		RefreshToken:    set.RefreshToken,
		RememberMeToken: set.RememberMeToken,
		AccessTTL:       set.AccessTTL,
		RefreshTTL:      set.RefreshTTL,
		RememberMeTTL:   set.RememberMeTTL,
		RefreshPath:     path,
		RememberMePath:  path,
	}, cfg.LDFlag_CORSHighSecurity)
}
