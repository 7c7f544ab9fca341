package timesync

import "errors"

// Protocol faults. Any of these surfacing from an exchange leaves the channel
// and sequence counters desynchronized, so they are all fatal to the session
// that observes them; there is no mid-protocol recovery.
var (
	ErrBadMagic           = errors.New("timesync: unexpected magic number in frame header")
	ErrSequenceMismatch   = errors.New("timesync: unexpected sequence number in frame header")
	ErrDeadlineInPast     = errors.New("timesync: follower attempted to set timer at time before current time")
	ErrOverwriteViolation = errors.New("timesync: follower attempted to send data when leader could not accept it")
	ErrEncodingOverflow   = errors.New("timesync: payload too large for frame length field")
)
