package signin

// Phase is the position of a sign-in attempt in its lifecycle.
// Idle -> AwaitingProviderRedirect -> AwaitingCallback -> Resolved | Failed.
// No phase is stored server side; state travels in the redirect.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingProviderRedirect
	PhaseAwaitingCallback
	PhaseResolved
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingProviderRedirect:
		return "awaiting_provider_redirect"
	case PhaseAwaitingCallback:
		return "awaiting_callback"
	case PhaseResolved:
		return "resolved"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseResolved || p == PhaseFailed
}
