package model

import "fmt"

// DataLoadError is fatal at startup: the index store cannot serve requests
// without its tables.
type DataLoadError struct {
	Path string
	Err  error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("data load failed for %s: %v", e.Path, e.Err)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

// InvalidInputError is surfaced to the caller before any pipeline stage runs.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// ServiceError indicates the external geocoder failed after its retry budget.
// It is recovered locally: the source is treated as absent.
type ServiceError struct {
	Service string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }
