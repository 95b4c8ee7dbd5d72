package routes

const (
	Health  = "/health"
	Metrics = "/metrics"

	AuthBase = "/auth/v1"

	Login         = AuthBase + "/login"
	RefreshToken  = AuthBase + "/refresh_token"
	RememberMe    = AuthBase + "/remember_me"
	Logout        = AuthBase + "/logout"
	LogoutAll     = AuthBase + "/logout_all"
	SessionVerify = AuthBase + "/session/verify"
	Session       = AuthBase + "/session"

	AdminLogin        = AuthBase + "/admin/login"
	AdminRefreshToken = AuthBase + "/admin/refresh_token"
	AdminLogout       = AuthBase + "/admin/logout"
	AdminBlacklist    = AuthBase + "/admin/blacklist"
	AdminBlacklistIP  = AuthBase + "/admin/blacklist/{ip}"
)
