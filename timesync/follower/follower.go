// Package follower implements the responding side of the virtual-time
// synchronization protocol: it serves a leader's exchanges on a blocking
// channel, handing each request to an App and framing the App's answer back.
// It exists both as the peer for the standalone follower process and as the
// real counterparty in the leader's integration tests.
package follower

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"

	"github.com/radshield/qemu-hce/model"
	"github.com/radshield/qemu-hce/timesync"
	"github.com/rs/zerolog"
)

// App is the application behavior behind a follower: one Sync call per
// exchange. pendingRemaining is how many previously sent bytes the leader has
// not yet delivered; an App must not return new data while that count is
// nonzero. expireAt of TimeNever requests that the leader arm no timer.
type App interface {
	Sync(pendingRemaining int, now model.VirtualTime, writeData []byte) (expireAt model.VirtualTime, readData []byte)
}

// Serve runs the request/reply loop until the leader disconnects at a frame
// boundary (nil return) or a protocol violation occurs. The channel is owned
// by this call for its duration; exchanges are strictly sequential.
func Serve(channel io.ReadWriter, app App) error {
	var nextSeqNum uint32 = 0
	for {
		request, err := timesync.DecodeRequest(channel)
		if err == io.EOF {
			// disconnected exactly between frames; a clean shutdown
			return nil
		} else if err != nil {
			return err
		}
		if request.SeqNum != nextSeqNum {
			return fmt.Errorf("%w: received %v instead of %v",
				timesync.ErrSequenceMismatch, request.SeqNum, nextSeqNum)
		}

		now, ok := model.FromNanoseconds(request.Now)
		if !ok {
			return fmt.Errorf("leader reported nonexistent virtual time %d", request.Now)
		}
		expireAt, data := app.Sync(int(request.PendingRemaining), now, request.Data)
		if request.PendingRemaining > 0 && len(data) > 0 {
			return fmt.Errorf("%w: app produced %d bytes while %d were already pending",
				timesync.ErrOverwriteViolation, len(data), request.PendingRemaining)
		}
		if !timesync.FitsFrame(len(data)) {
			return fmt.Errorf("%w: %d-byte reply payload", timesync.ErrEncodingOverflow, len(data))
		}
		if expireAt.TimeExists() && expireAt.Before(now) {
			return fmt.Errorf("%w: app requested deadline %v before request time %v",
				timesync.ErrDeadlineInPast, expireAt, now)
		}

		frame := timesync.EncodeReply(timesync.Reply{
			SeqNum:   request.SeqNum,
			ExpireAt: int64(expireAt),
			Data:     data,
		})
		if _, err := channel.Write(frame); err != nil {
			return err
		}

		nextSeqNum++ // wraps along with the leader's counter
	}
}

// OnCancel runs cb once ctx is cancelled.
func OnCancel(ctx context.Context, cb func()) {
	if ch := ctx.Done(); ch != nil {
		go func() {
			<-ch
			cb()
		}()
	}
}

// OnInterrupt runs cb on the first SIGINT, unless ctx is cancelled first.
func OnInterrupt(ctx context.Context, cb func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		select {
		case <-ch:
			cb()
		case <-ctx.Done():
			// do nothing
		}
	}()
}

// ListenUnix listens on a unix socket at sockpath, removing any stale socket
// file first, and streams accepted connections until ctx is cancelled.
func ListenUnix(ctx context.Context, sockpath string, log zerolog.Logger) (<-chan net.Conn, error) {
	if _, err := os.Lstat(sockpath); err == nil {
		log.Info().Str("path", sockpath).Msg("removing stale unix socket")
		if err := os.Remove(sockpath); err != nil {
			return nil, err
		}
	}
	l, err := net.Listen("unix", sockpath)
	if err != nil {
		return nil, err
	}
	halt := false
	OnCancel(ctx, func() {
		halt = true
		if err := l.Close(); err != nil {
			log.Warn().Err(err).Msg("unexpected error while closing unix socket")
		}
		if err := os.Remove(sockpath); err != nil {
			log.Warn().Err(err).Msg("unexpected error while removing unix socket")
		}
	})
	log.Info().Stringer("addr", l.Addr()).Msg("listening on unix socket")
	accepted := make(chan net.Conn)
	go func() {
		defer func() {
			if !halt {
				if err := l.Close(); err != nil {
					log.Warn().Err(err).Msg("unexpected error while closing unix socket")
				}
			}
		}()
		defer close(accepted)
		for {
			conn, err := l.Accept()
			if err != nil {
				if !halt {
					log.Warn().Err(err).Msg("unexpected error while accepting connection")
				}
				break
			}
			accepted <- conn
		}
	}()
	return accepted, nil
}

// ListenSingleConnection accepts exactly one leader connection and
// immediately closes any later ones.
func ListenSingleConnection(ctx context.Context, sockpath string, log zerolog.Logger) (net.Conn, error) {
	conns, err := ListenUnix(ctx, sockpath, log)
	if err != nil {
		return nil, err
	}
	conn, ok := <-conns
	if !ok {
		return nil, errors.New("no leader attempted to connect")
	}
	go func() {
		for extra := range conns {
			log.Warn().Msg("received unexpected connection on single-connection socket")
			if err := extra.Close(); err != nil {
				log.Warn().Err(err).Msg("could not immediately close extra connection")
			}
		}
	}()
	return conn, nil
}

// Simple is the whole follower lifecycle for a single leader: listen, accept
// one connection, serve it until disconnect or SIGINT.
func Simple(sockpath string, app App, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	OnInterrupt(ctx, cancel)
	conn, err := ListenSingleConnection(ctx, sockpath, log)
	if err != nil {
		return err
	}
	OnCancel(ctx, func() {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("unexpected error while closing connection")
		}
	})
	log.Info().Stringer("peer", conn.RemoteAddr()).Msg("leader connected")
	if err := Serve(conn, app); err != nil {
		return err
	}
	log.Info().Msg("leader disconnected; exiting normally")
	return nil
}
