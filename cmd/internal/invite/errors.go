package invite

import "errors"

var (
	ErrInvalidInput = errors.New("invite: invalid input")
)
