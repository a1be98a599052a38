package domain

import "errors"

var (
	ErrNotFound               = errors.New("resource not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrNoFieldRequests        = errors.New("no field requests supplied")
	ErrDuplicateLabel         = errors.New("duplicate field label")
	ErrInvalidBBox            = errors.New("bounding box outside normalized space")
	ErrMalformedTemplate      = errors.New("malformed template record")
	ErrAnswerCountMismatch    = errors.New("answer service returned a different number of answers than questions")
	ErrExternalService        = errors.New("external service failure")
	ErrInvalidBatchTransition = errors.New("invalid batch status transition")
	ErrBatchOutOfRange        = errors.New("batch index out of range")
	ErrDuplicateTemplate      = errors.New("template already exists")
)
