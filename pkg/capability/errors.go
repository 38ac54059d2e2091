package capability

import "errors"

var (
	// ErrBlockedCapability is returned when a capability is not in the allowlist
	ErrBlockedCapability = errors.New("capability is not allowed in the sandbox")

	// ErrHardBlocked is returned for capabilities that can never be registered
	ErrHardBlocked = errors.New("capability is permanently blocked")

	// ErrAlreadyRegistered is returned when a capability name is registered twice
	ErrAlreadyRegistered = errors.New("capability is already registered")

	// ErrNoEnvironment is returned when a builtin runs outside a sandbox thread
	ErrNoEnvironment = errors.New("no sandbox environment attached to thread")
)
