package grain

import "errors"

// ErrInvalidGrain is returned for grains missing required fields or not
// parseable as JSON. Check with errors.Is.
var ErrInvalidGrain = errors.New("grain: invalid grain")
