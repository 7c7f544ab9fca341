package leader

import "errors"

// ErrSessionDown is returned by every session entry point after a fatal
// protocol or channel error has poisoned the session. The original failure is
// attached to it and recoverable with errors.Unwrap.
var ErrSessionDown = errors.New("timesync leader: session terminated by earlier fatal error")
