package usercontext

// Session values written at login.
const (
	KeyUserID   = "user_id"
	KeyUsername = "username"
	KeyIsAdmin  = "is_admin"
	KeyLoginAt  = "login_at"
)

// Request locals set by the user context middleware.
const (
	KeyFromProtected = "from_protected"
	KeyUserContext   = "user_context"
)
