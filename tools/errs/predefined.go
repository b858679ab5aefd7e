package errs

// Error classes. Queries that miss return nil values instead of
// ErrNotFound; mutating calls raise it.
const (
	CodeNotAuthorized  = 1403
	CodeNotFound       = 1404
	CodeMalformedInput = 1400
	CodeTransientInfra = 1500
	CodeTokenExpired   = 1401
)

var (
	ErrNotAuthorized  = NewCodeError(CodeNotAuthorized, "not authorized")
	ErrNotFound       = NewCodeError(CodeNotFound, "record not found")
	ErrMalformedInput = NewCodeError(CodeMalformedInput, "malformed input")
	ErrTransientInfra = NewCodeError(CodeTransientInfra, "infrastructure unavailable")
	ErrTokenExpired   = NewCodeError(CodeTokenExpired, "token invalid or expired")
)

// Outcome distinguishes "operation degraded gracefully" from success on
// best-effort paths (presence writes, offline queueing, push dispatch).
// Callers that must see failures get a real error instead.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeDegraded
)

func (o Outcome) Degraded() bool { return o == OutcomeDegraded }

func (o Outcome) String() string {
	if o == OutcomeDegraded {
		return "degraded"
	}
	return "ok"
}
