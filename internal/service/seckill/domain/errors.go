package domain

import "errors"

var (
	ErrFlashItemNotFound = errors.New("flash item not found")
	ErrInvalidIntent     = errors.New("invalid order intent")
	ErrResultNotFound    = errors.New("purchase result not found")
	ErrOrderNotFound     = errors.New("order not found")
)
