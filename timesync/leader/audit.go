package leader

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"github.com/radshield/qemu-hce/model"
)

// AuditLog is the append-only record of every exchange a session performs:
// one start row when the request frame is about to be sent, one end row once
// the reply header has been accepted. Rows carry both virtual and wall-clock
// timestamps so that tooling can correlate simulated time against real time.
type AuditLog struct {
	session ulid.ULID
	output  *csv.Writer
	closer  io.Closer
}

var auditColumns = []string{"Event", "VirtualNs", "RealNs", "Bytes", "Reason", "Session"}

func makeAuditLog(w io.Writer, closer io.Closer) (*AuditLog, error) {
	a := &AuditLog{
		session: ulid.Make(),
		output:  csv.NewWriter(w),
		closer:  closer,
	}
	if err := a.output.Write(auditColumns); err != nil {
		return nil, err
	}
	a.output.Flush()
	if err := a.output.Error(); err != nil {
		return nil, err
	}
	return a, nil
}

// MakeAuditLog creates (truncating) an audit log file at path.
func MakeAuditLog(path string) (*AuditLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	a, err := makeAuditLog(f, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return a, nil
}

// MakeAuditLogTo writes audit rows to an arbitrary writer; Close does not
// close the writer.
func MakeAuditLogTo(w io.Writer) (*AuditLog, error) {
	return makeAuditLog(w, nil)
}

func (a *AuditLog) Session() ulid.ULID {
	return a.session
}

func (a *AuditLog) record(event string, virtual model.VirtualTime, real time.Time, count int, reason string) error {
	err := a.output.Write([]string{
		event,
		strconv.FormatInt(virtual.Nanoseconds(), 10),
		strconv.FormatInt(real.UnixNano(), 10),
		strconv.Itoa(count),
		reason,
		a.session.String(),
	})
	a.output.Flush()
	if err == nil {
		err = a.output.Error()
	}
	return err
}

func (a *AuditLog) Start(virtual model.VirtualTime, real time.Time, txBytes int, reason string) error {
	return a.record("start", virtual, real, txBytes, reason)
}

func (a *AuditLog) End(virtual model.VirtualTime, real time.Time, rxBytes int, reason string) error {
	return a.record("end", virtual, real, rxBytes, reason)
}

func (a *AuditLog) Close() (err error) {
	a.output.Flush()
	if e := a.output.Error(); e != nil {
		err = multierror.Append(err, e).ErrorOrNil()
	}
	if a.closer != nil {
		if e := a.closer.Close(); e != nil {
			err = multierror.Append(err, e).ErrorOrNil()
		}
	}
	return err
}
