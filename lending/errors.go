package lending

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("not permitted")
	ErrUnavailable        = errors.New("listing unavailable")
	ErrDuplicateRequest   = errors.New("borrow request already pending")
	ErrAlreadyResolved    = errors.New("notification already resolved")
	ErrInsufficientFunds  = errors.New("insufficient coins")
	ErrNotLoggedIn        = errors.New("not logged in")
)
