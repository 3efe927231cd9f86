package proxy

import "errors"

// Error taxonomy for the relay core. Authentication and host-approval
// failures are terminal per tunnel or request; upstream and decode failures
// fail open for the client; persistence failures stay internal.
var (
	ErrAuthMissing         = errors.New("authentication required")
	ErrAuthInvalid         = errors.New("invalid credential")
	ErrHostNotApproved     = errors.New("host not approved")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)
