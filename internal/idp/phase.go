package idp

// LoginPhase tracks one login attempt.
type LoginPhase int

const (
	PhaseIdle LoginPhase = iota
	PhaseAwaitingProviderRedirect
	PhaseCallbackReceived
	PhaseExchangingCode
	PhaseExchangingUserinfo
	PhaseAuthenticated
	PhaseFailed
)

func (p LoginPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingProviderRedirect:
		return "awaiting_provider_redirect"
	case PhaseCallbackReceived:
		return "callback_received"
	case PhaseExchangingCode:
		return "exchanging_code"
	case PhaseExchangingUserinfo:
		return "exchanging_userinfo"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
