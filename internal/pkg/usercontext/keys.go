package usercontext

// Shared Locals/session keys used across controllers and middlewares
const (
	KeyUserID      = "user_id"
	KeyUserContext = "USER_CONTEXT"
	KeyDecision    = "ACCESS_DECISION"
)
