package auth

// Known OAuth scopes used by the vitals endpoints.
const (
	ScopeVitalsWrite = "vitals:write"
	ScopeVitalsRead  = "vitals:read"
)
