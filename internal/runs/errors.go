package runs

import "errors"

// ErrMissingUser is returned when a run is started without a user id.
var ErrMissingUser = errors.New("profile user_id required")
