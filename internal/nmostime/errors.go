package nmostime

import "errors"

// ErrInvalidTimestamp is returned when a string is not in "{seconds}:{nanoseconds}" form.
var ErrInvalidTimestamp = errors.New("nmostime: invalid timestamp")
