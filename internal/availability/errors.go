package availability

import "errors"

var (
	// ErrNotFound is returned when a block, settings row or service does not exist.
	ErrNotFound = errors.New("availability: not found")
	// ErrInvalidBlock is returned when a block does not satisfy start < end.
	ErrInvalidBlock = errors.New("availability: block start must be before end")
	// ErrInvalidSettings is returned for interval < 5 or buffer < 0.
	ErrInvalidSettings = errors.New("availability: invalid scheduling settings")
	// ErrInvalidService is returned when a service fails validation.
	ErrInvalidService = errors.New("availability: invalid service")
	// ErrInvalidWeek is returned when copy-week offsets are not whole weeks.
	ErrInvalidWeek = errors.New("availability: copy-week requires whole-week offsets")
)
