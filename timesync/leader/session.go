// Package leader implements the initiating side of the virtual-time
// synchronization protocol: a session that owns one half-duplex channel to a
// follower, relays producer bytes to it, installs each reply's payload as the
// pending buffer for a flow-controlled consumer, and keeps exactly one
// follower-requested deadline timer armed.
package leader

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/radshield/qemu-hce/model"
	"github.com/radshield/qemu-hce/timesync"
	"github.com/rs/zerolog"
)

// Clock is the virtual clock the session synchronizes against. SetTimer
// schedules a single future callback; the session keeps at most one
// outstanding. component.SimController and component.WallClock both satisfy
// this.
type Clock interface {
	Now() model.VirtualTime
	SetTimer(expireAt model.VirtualTime, name string, callback func()) (cancel func())
}

// Frontend is the local consumer of follower data. Capacity reports how many
// bytes a single Deliver call may currently carry (0 = backpressure), and
// Deliver hands over a chunk sized within the last reported capacity. The
// chunk is only valid for the duration of the call. Frontend methods are
// invoked with the session's exchange lock held and must not call back into
// the session.
type Frontend interface {
	Capacity() int
	Deliver(data []byte)
}

const expireTimerName = "timesync.leader.Session/Expire"

// SessionConfig carries the collaborators a session is built from. Channel,
// Clock, Frontend, and Audit are required.
type SessionConfig struct {
	// Channel is the connected, ordered, blocking byte stream to the
	// follower. The session takes exclusive ownership and closes it on Close.
	Channel  io.ReadWriteCloser
	Clock    Clock
	Frontend Frontend
	Audit    *AuditLog
	Log      zerolog.Logger
	// OnFatal, if set, is called (without the exchange lock held) when a
	// trigger with no caller to report to -- timer expiry -- hits a fatal
	// error. Write, AcceptInput, and Start report their own errors instead.
	OnFatal func(error)
}

// Session is one leader endpoint. All exported methods serialize on an
// internal exchange lock, so at most one exchange-plus-pump sequence runs at
// a time and request/reply frames are never interleaved on the channel.
type Session struct {
	mu sync.Mutex

	channel  io.ReadWriteCloser
	clock    Clock
	frontend Frontend
	audit    *AuditLog
	log      zerolog.Logger
	onFatal  func(error)

	seqNum uint32

	// pending is the undelivered portion of the last reply payload; nil when
	// no payload is outstanding. pendingOffset <= len(pending) always.
	pending       []byte
	pendingOffset int

	// cancelTimer cancels the armed deadline callback; nil when disarmed.
	// timerEpoch identifies the current arm: a real-time timer that has
	// already fired ignores cancellation, so its callback may still reach the
	// lock after the deadline was superseded. Each arm or disarm bumps the
	// epoch, and a callback carrying a stale epoch must do nothing.
	cancelTimer  func()
	timerEpoch   uint64
	nextDeadline model.VirtualTime

	failed error
	closed bool
}

func MakeSession(config SessionConfig) *Session {
	if config.Channel == nil || config.Clock == nil || config.Frontend == nil || config.Audit == nil {
		panic("missing required session collaborator")
	}
	return &Session{
		channel:      config.Channel,
		clock:        config.Clock,
		frontend:     config.Frontend,
		audit:        config.Audit,
		log:          config.Log.With().Stringer("session", config.Audit.Session()).Logger(),
		onFatal:      config.OnFatal,
		nextDeadline: model.TimeNever,
	}
}

func (s *Session) pendingRemaining() int {
	if s.pending == nil {
		return 0
	}
	if s.pendingOffset > len(s.pending) {
		panic("pending offset ran past pending length")
	}
	return len(s.pending) - s.pendingOffset
}

// disarmTimerLocked cancels any armed callback and invalidates callbacks
// already in flight. Callers must hold s.mu.
func (s *Session) disarmTimerLocked() {
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
	s.nextDeadline = model.TimeNever
	s.timerEpoch++
}

// setDeadline re-arms or disarms the single timer slot from a decoded reply
// deadline. Re-arming replaces any previously scheduled callback.
func (s *Session) setDeadline(expireAt model.VirtualTime) {
	s.disarmTimerLocked()
	if expireAt.TimeExists() {
		epoch := s.timerEpoch
		s.cancelTimer = s.clock.SetTimer(expireAt, expireTimerName, func() {
			s.expire(epoch)
		})
		s.nextDeadline = expireAt
	}
}

// exchange performs one complete request/reply round trip. Callers must hold
// s.mu. Any returned error is fatal to the session; the caller routes it
// through fatalLocked.
func (s *Session) exchange(data []byte, reason string) error {
	if !timesync.FitsFrame(len(data)) {
		return fmt.Errorf("%w: %d-byte payload", timesync.ErrEncodingOverflow, len(data))
	}

	seqNum := s.seqNum
	s.seqNum++ // wraps at 2^32 by design of the counter width

	now := s.clock.Now()
	if err := s.audit.Start(now, time.Now(), len(data), reason); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}

	frame := timesync.EncodeRequest(timesync.Request{
		SeqNum:           seqNum,
		PendingRemaining: uint32(s.pendingRemaining()),
		Now:              now.Nanoseconds(),
		Data:             data,
	})
	if _, err := s.channel.Write(frame); err != nil {
		return fmt.Errorf("channel write: %w", err)
	}

	header, err := timesync.DecodeReplyHeader(s.channel)
	if err != nil {
		return fmt.Errorf("channel read: %w", err)
	}
	if header.SeqNum != seqNum {
		return fmt.Errorf("%w: received %v instead of %v",
			timesync.ErrSequenceMismatch, header.SeqNum, seqNum)
	}
	expireAt, hasTimer := model.FromNanoseconds(header.ExpireAt)
	if hasTimer && expireAt.Before(now) {
		return fmt.Errorf("%w: deadline %v against request time %v",
			timesync.ErrDeadlineInPast, expireAt, now)
	}

	s.setDeadline(expireAt)

	if err := s.audit.End(now, time.Now(), int(header.DataLength), reason); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}

	if header.DataLength > 0 {
		if s.pendingRemaining() > 0 {
			return fmt.Errorf("%w: %d bytes sent with %d still undelivered",
				timesync.ErrOverwriteViolation, header.DataLength, s.pendingRemaining())
		}
		replyData := make([]byte, header.DataLength)
		if _, err := io.ReadFull(s.channel, replyData); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("channel read: %w", err)
		}
		// any fully-drained previous buffer is discarded by the replacement
		s.pending = replyData
		s.pendingOffset = 0
	}

	s.log.Debug().
		Str("reason", reason).
		Uint32("seq", seqNum).
		Stringer("now", now).
		Int("tx", len(data)).
		Uint32("rx", header.DataLength).
		Stringer("deadline", expireAt).
		Msg("exchange complete")

	if s.seqNum != seqNum+1 {
		panic("sequence counter advanced unexpectedly during exchange")
	}
	return nil
}

// pumpInput drains the pending buffer into the frontend in capacity-sized
// chunks, and rechecks with the follower for more data whenever the buffer
// empties. Callers must hold s.mu. Stops when the frontend reports no
// capacity or no data remains even after a recheck.
func (s *Session) pumpInput() error {
	for {
		capacity := s.frontend.Capacity()
		if capacity < 0 {
			panic("invalid frontend capacity")
		}
		take := s.pendingRemaining()
		if take > capacity {
			take = capacity
		}
		if take == 0 {
			return nil
		}

		s.frontend.Deliver(s.pending[s.pendingOffset : s.pendingOffset+take])
		s.pendingOffset += take
		if s.pendingOffset > len(s.pending) {
			panic("pending offset ran past pending length")
		}

		if s.pendingOffset == len(s.pending) {
			// that was the last of our data; check immediately whether the
			// follower has more, instead of waiting for the next timer
			if err := s.exchange(nil, "recheck"); err != nil {
				return err
			}
		}
	}
}

func (s *Session) entryGuard() error {
	if s.failed != nil {
		return fmt.Errorf("%w: %w", ErrSessionDown, s.failed)
	}
	if s.closed {
		return fmt.Errorf("%w (closed)", ErrSessionDown)
	}
	return nil
}

// fatalLocked records err as the session's terminal condition: logs it,
// disarms the timer, and poisons every later entry point. Callers must hold
// s.mu.
func (s *Session) fatalLocked(err error) {
	if s.failed != nil || s.closed {
		return
	}
	s.failed = err
	s.log.Error().Err(err).Msg("session failed; no mid-protocol recovery is possible")
	s.disarmTimerLocked()
}

// Start performs the very first interaction: a zero-length exchange that
// learns the follower's initial timer preference and any immediately
// available data, followed by a pump of whatever arrived.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.entryGuard(); err != nil {
		return err
	}
	err := s.exchange(nil, "initial")
	if err == nil {
		err = s.pumpInput()
	}
	if err != nil {
		s.fatalLocked(err)
	}
	return err
}

// Write relays one producer payload to the follower and returns once the
// full round trip (request, reply, input pump) has completed. On success the
// entire payload has been accepted by the follower.
func (s *Session) Write(data []byte) error {
	if !timesync.FitsFrame(len(data)) {
		// caller contract violation, rejected before touching protocol state
		return fmt.Errorf("%w: %d-byte payload", timesync.ErrEncodingOverflow, len(data))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.entryGuard(); err != nil {
		return err
	}
	err := s.exchange(data, "write")
	if err == nil {
		err = s.pumpInput()
	}
	if err != nil {
		s.fatalLocked(err)
	}
	return err
}

// AcceptInput is the frontend's capacity-available notification: it resumes
// draining the pending buffer now that the consumer can take more bytes.
func (s *Session) AcceptInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.entryGuard(); err != nil {
		return err
	}
	err := s.pumpInput()
	if err != nil {
		s.fatalLocked(err)
	}
	return err
}

// expire is the armed deadline callback: expiry is just another trigger for
// the same exchange routine, carrying no payload. If epoch no longer matches,
// this callback raced a re-arm or disarm and its deadline is no longer
// authoritative, so it must not exchange.
func (s *Session) expire(epoch uint64) {
	s.mu.Lock()
	if s.failed != nil || s.closed || epoch != s.timerEpoch {
		s.mu.Unlock()
		return
	}
	s.disarmTimerLocked()
	err := s.exchange(nil, "expired")
	if err == nil {
		err = s.pumpInput()
	}
	if err != nil {
		s.fatalLocked(err)
	}
	s.mu.Unlock()
	if err != nil && s.onFatal != nil {
		s.onFatal(err)
	}
}

// NextDeadline reports the currently armed deadline, or TimeNever when the
// timer is disarmed.
func (s *Session) NextDeadline() model.VirtualTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextDeadline
}

// PendingRemaining reports how many reply bytes are still waiting to be
// delivered to the frontend.
func (s *Session) PendingRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingRemaining()
}

// Close tears the session down: the timer is disarmed before the channel is
// released, so no expiry callback can run against a half-destroyed session.
// Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.disarmTimerLocked()
	s.pending = nil
	s.pendingOffset = 0
	var err error
	if e := s.channel.Close(); e != nil {
		err = multierror.Append(err, e).ErrorOrNil()
	}
	if e := s.audit.Close(); e != nil {
		err = multierror.Append(err, e).ErrorOrNil()
	}
	return err
}
