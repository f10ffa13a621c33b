package research

import "errors"

// Sentinel errors surfaced across package boundaries.
var (
	// ErrInvalidInput is returned for malformed targets or category lists
	// before a job enters the state machine.
	ErrInvalidInput = errors.New("invalid input")
	// ErrJobNotFound is returned by stores and the task manager for
	// unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when creating a job whose ID is taken.
	ErrJobExists = errors.New("job already exists")
	// ErrConflict is returned when an operation is rejected because the
	// job is mid-flight (e.g. reset while processing).
	ErrConflict = errors.New("job is currently processing")
	// ErrCategoryNotFound is returned for unknown category keys.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrBlobNotFound is returned by blob stores for unknown keys.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrNoContent is returned when analysis is requested before the
	// extraction stage has produced content.
	ErrNoContent = errors.New("no extracted content available")
)
