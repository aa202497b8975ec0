package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrAuth          = errors.New("authentication rejected")
	ErrRequest       = errors.New("request rejected")
	ErrTransient     = errors.New("transient upstream failure")
	ErrStorage       = errors.New("storage failure")
	ErrCrypto        = errors.New("decryption failed")
	ErrConfig        = errors.New("invalid configuration")
	ErrBusDelivery   = errors.New("subscriber delivery failed")
	ErrRateLimited   = errors.New("rate limited")
	ErrContextDone   = errors.New("context cancelled")
)
