// hce-proxy is the standalone leader endpoint: it connects to a follower over
// a unix or vsock socket, relays stdin through the synchronization protocol,
// and writes everything the follower sends back to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"

	"github.com/mdlayher/vsock"
	"github.com/radshield/qemu-hce/component"
	"github.com/radshield/qemu-hce/timesync/leader"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// writerFrontend is the consumer side of the session: a plain writer with a
// fixed per-delivery chunk size and no backpressure.
type writerFrontend struct {
	out   io.Writer
	chunk int
	log   zerolog.Logger
}

func (f *writerFrontend) Capacity() int {
	return f.chunk
}

func (f *writerFrontend) Deliver(data []byte) {
	if _, err := f.out.Write(data); err != nil {
		f.log.Error().Err(err).Msg("could not deliver follower data to output")
	}
}

func dial(cfg Config) (net.Conn, error) {
	switch cfg.Transport {
	case "unix":
		return net.Dial("unix", cfg.SocketPath)
	case "vsock":
		return vsock.Dial(cfg.VsockCID, cfg.VsockPort, nil)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func run(cfg Config, log zerolog.Logger) error {
	conn, err := dial(cfg)
	if err != nil {
		return fmt.Errorf("connect to follower: %w", err)
	}

	audit, err := leader.MakeAuditLog(cfg.AuditPath)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open audit log: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	session := leader.MakeSession(leader.SessionConfig{
		Channel:  conn,
		Clock:    component.MakeWallClock(),
		Frontend: &writerFrontend{out: os.Stdout, chunk: cfg.ReadChunk, log: log},
		Audit:    audit,
		Log:      log,
		OnFatal: func(err error) {
			select {
			case fatal <- err:
			default:
			}
			cancel()
		},
	})
	// session owns conn and audit from here on
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("session teardown reported errors")
		}
	}()

	if err := session.Start(); err != nil {
		return fmt.Errorf("initial exchange: %w", err)
	}
	log.Info().Str("transport", cfg.Transport).Msg("session established")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// producer: relay stdin writes through the protocol
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := session.Write(buf[:n]); werr != nil {
					return fmt.Errorf("relay write: %w", werr)
				}
			}
			if err == io.EOF {
				log.Info().Msg("end of input; shutting down")
				return errStopped
			} else if errors.Is(err, os.ErrClosed) {
				// shutdown path closed stdin under us to break the read
				return errStopped
			} else if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
		}
	})
	group.Go(func() error {
		// closing stdin is how the relay goroutine gets unblocked
		select {
		case <-interrupt:
			log.Info().Msg("interrupted; shutting down")
			_ = os.Stdin.Close()
			return errStopped
		case <-ctx.Done():
			_ = os.Stdin.Close()
			return nil
		}
	})

	err = group.Wait()
	select {
	case ferr := <-fatal:
		return fmt.Errorf("session failed on timer path: %w", ferr)
	default:
	}
	if err != nil && !errors.Is(err, errStopped) {
		return err
	}
	return nil
}

var errStopped = errors.New("stopped")

func main() {
	configPath := flag.String("config", "hce-proxy.toml", "path to TOML configuration file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	log = log.Level(level)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("proxy terminated")
	}
}
