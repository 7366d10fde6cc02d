package admintoken

import "errors"

var (
	ErrTokenTooShort = errors.New("admin token too short")
	ErrTokenTooLong  = errors.New("admin token too long")
	ErrInvalidHash   = errors.New("invalid admin token hash")
)
