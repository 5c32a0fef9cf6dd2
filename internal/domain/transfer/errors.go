package transfer

import "errors"

// ErrDirectory wraps failures of the community directory lookups.
var ErrDirectory = errors.New("directory lookup failed")

// ErrLabel wraps failures to write a user's flair.
var ErrLabel = errors.New("set label failed")
