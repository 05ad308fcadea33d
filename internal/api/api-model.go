package api

// Context key types to avoid collisions
type contextKey string

const (
	UserKey contextKey = "user"
)

// HTTP header and cookie constants
const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	ForwardedForHeader  = "X-Forwarded-For"
	SessionCookie       = "lumavet_session"
)

// HTTP path constants
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// Form and JSON field names
const (
	FieldPDF   = "pdf_file"
	FieldPhoto = "photo"
)

// Multipart forms keep at most this much in memory, the rest spills to disk
const multipartMemory = 8 << 20

// Error message constants
const (
	ErrAuthRequired       = "authentication required"
	ErrInvalidSession     = "invalid or expired session"
	ErrForbidden          = "you do not have permission to access this area"
	ErrNotFound           = "not found"
	ErrConflict           = "record already exists"
	ErrInvalidJSON        = "invalid JSON body"
	ErrInvalidForm        = "invalid form data"
	ErrInvalidQuery       = "invalid query parameters"
	ErrValidation         = "validation failed"
	ErrInvalidCredentials = "invalid login or password"
	ErrTooManyAttempts    = "too many login attempts, try again later"
	ErrInvalidActivation  = "activation link is invalid or has expired"
	ErrBodyTooLarge       = "request body too large"
	ErrMethodNotAllowed   = "method not allowed"
	ErrInternal           = "internal server error"
)

// Log message constants
const (
	LogSessionRejected = "Session rejected"
	LogRequestFailed   = "Request failed"
	LogLoginThrottled  = "Login throttled"
)
