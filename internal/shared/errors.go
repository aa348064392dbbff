package shared

import "fmt"

var (
	// Error taxonomy of the relay. Callers wrap these with %w and test with errors.Is.
	ErrConfiguration  = fmt.Errorf("configuration error")
	ErrAuthentication = fmt.Errorf("authentication error")
	ErrFeedAPI        = fmt.Errorf("feed API error")
	ErrPersistence    = fmt.Errorf("persistence error")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("%w: configuration not found", ErrConfiguration)
	ErrInvalidConfig      = fmt.Errorf("%w: invalid configuration", ErrConfiguration)
	ErrUnknownService     = fmt.Errorf("%w: no configured service matches", ErrConfiguration)
	ErrUnsupportedScheme  = fmt.Errorf("%w: unsupported auth scheme", ErrConfiguration)
	ErrMissingCredentials = fmt.Errorf("%w: missing credentials", ErrAuthentication)

	// Persistence errors
	ErrNotFound = fmt.Errorf("%w: record not found", ErrPersistence)

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrTimeout         = fmt.Errorf("operation timed out")
)
