package protocol

// Action is the recovery intent derived from a close code. It is also the
// name of the event emitted for it.
type Action string

const (
	ActionNormal  Action = "normal"
	ActionBackoff Action = "backoff"
	ActionRefused Action = "refused"
	ActionRetry   Action = "retry"
	ActionSSLOnly Action = "ssl_only"
)

// Close codes with a fixed meaning.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
	CloseSSLOnly       = 4000
)

// Classify maps a close code to the action a reconnection policy should
// take. Codes outside the documented ranges are treated as refusals.
func Classify(code int) Action {
	switch {
	case code == CloseNormal, code == CloseGoingAway:
		return ActionNormal
	case code == CloseProtocolError:
		return ActionBackoff
	case code == CloseSSLOnly:
		return ActionSSLOnly
	case code > 4000 && code < 4100:
		return ActionRefused
	case code >= 4100 && code < 4200:
		return ActionBackoff
	case code >= 4200 && code < 4300:
		return ActionRetry
	default:
		return ActionRefused
	}
}

// IsFatal reports whether the action needs caller intervention before the
// same connection can succeed.
func (a Action) IsFatal() bool {
	return a == ActionRefused || a == ActionSSLOnly
}
