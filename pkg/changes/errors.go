package changes

import "errors"

// ErrHistoryUnavailable indicates that the release marker or the repository
// history could not be read. A partial change set is never returned with it.
var ErrHistoryUnavailable = errors.New("repository history unavailable")
