// hce-follower is a bench follower process: it listens on a unix socket for
// one leader, echoes every completed line the leader relays, and writes a
// timestamped line of its own once per interval using the deadline timer.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/radshield/qemu-hce/timesync/follower"
	"github.com/rs/zerolog"
)

func main() {
	socketPath := flag.String("socket", "./timesync.sock", "unix socket path to listen on")
	interval := flag.Duration("interval", time.Second, "how often to originate a line of data")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	app := follower.MakeLineWriterApp(*interval)
	if err := follower.Simple(*socketPath, app, log); err != nil {
		log.Fatal().Err(err).Msg("follower terminated")
	}
}
