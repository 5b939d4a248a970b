package apperrors

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrNoRows      = errors.New("query returned no rows")
	ErrPoolClosed  = errors.New("connection pool is closed")
	ErrNoDocuments = errors.New("no schema documents found")
	ErrEmptyQuery  = errors.New("query must not be empty")
)
