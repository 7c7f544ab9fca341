package leader

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/radshield/qemu-hce/model"
	"github.com/radshield/qemu-hce/timesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogRecords(t *testing.T) {
	var buf bytes.Buffer
	audit, err := MakeAuditLogTo(&buf)
	require.NoError(t, err)

	wall := time.Unix(1700000000, 123)
	require.NoError(t, audit.Start(model.VirtualTime(42), wall, 2, "write"))
	require.NoError(t, audit.End(model.VirtualTime(42), wall.Add(time.Millisecond), 5, "write"))
	require.NoError(t, audit.Close())

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, auditColumns, records[0])

	start, end := records[1], records[2]
	assert.Equal(t, "start", start[0])
	assert.Equal(t, "42", start[1])
	assert.Equal(t, "2", start[3])
	assert.Equal(t, "write", start[4])

	assert.Equal(t, "end", end[0])
	assert.Equal(t, "42", end[1])
	assert.Equal(t, "5", end[3])
	assert.Equal(t, "write", end[4])

	// both rows carry the same well-formed session id
	id, err := ulid.Parse(start[5])
	require.NoError(t, err)
	assert.Equal(t, audit.Session(), id)
	assert.Equal(t, start[5], end[5])
}

func TestAuditPairsPerExchange(t *testing.T) {
	h := makeHarness(t)
	h.channel.replies = []func(timesync.Request) []byte{
		replyWith(1000, []byte("XY")),
		replyWith(-1, nil),
	}
	h.frontend.capacities = []int{1, 1}
	require.NoError(t, h.session.Write([]byte("AB")))

	records, err := csv.NewReader(&h.auditBuf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5) // header + start/end for "write" + start/end for "recheck"

	var events, reasons []string
	for _, row := range records[1:] {
		events = append(events, row[0])
		reasons = append(reasons, row[4])
	}
	assert.Equal(t, []string{"start", "end", "start", "end"}, events)
	assert.Equal(t, []string{"write", "write", "recheck", "recheck"}, reasons)
}
