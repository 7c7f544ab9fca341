// Package timesync implements the wire format of the virtual-time
// synchronization protocol: a half-duplex request/reply exchange where the
// leader reports its virtual clock and outbound bytes, and the follower
// replies with inbound bytes and the next deadline at which it must be
// contacted again.
package timesync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	LeaderMagic   = 0x71DE7EAD
	FollowerMagic = 0x71DEF011
)

const (
	RequestHeaderSize = 24
	ReplyHeaderSize   = 20
)

// Request is one leader-to-follower frame: the leader's current virtual time,
// any outbound data, and how many reply bytes from earlier exchanges are
// still waiting to be delivered on the leader side.
type Request struct {
	SeqNum           uint32
	PendingRemaining uint32
	Now              int64
	Data             []byte
}

// Reply is one follower-to-leader frame: data for the leader to deliver, and
// the absolute virtual time at which the leader must initiate the next
// exchange on its own (negative means no timer).
type Reply struct {
	SeqNum   uint32
	ExpireAt int64
	Data     []byte
}

// ReplyHeader is the fixed-size prefix of a Reply; the payload is read
// separately so that the receiver can validate before committing buffer space.
type ReplyHeader struct {
	SeqNum     uint32
	ExpireAt   int64
	DataLength uint32
}

func convertU32ToU64(v uint32) uint64 {
	// always okay
	return uint64(v)
}

func convertU64ToU32(v uint64) uint32 {
	r := uint32(v)
	if v != uint64(r) {
		panic("integer out of range")
	}
	return r
}

func convertIntToU32(v int) uint32 {
	r := uint32(v)
	if v != int(r) {
		panic("integer out of range")
	}
	return r
}

func mergeU32sIntoU64(low, high uint32) uint64 {
	return convertU32ToU64(low) | (convertU32ToU64(high) << 32)
}

func splitU64IntoU32s(v uint64) (low, high uint32) {
	return convertU64ToU32(v & 0xFFFFFFFF), convertU64ToU32(v >> 32)
}

func mergeU32sIntoI64(low, high uint32) int64 {
	// allows negative numbers to be encoded via the most-significant bit
	return int64(mergeU32sIntoU64(low, high))
}

func splitI64IntoU32s(v int64) (low, high uint32) {
	// allows negative numbers to be encoded via the most-significant bit
	return splitU64IntoU32s(uint64(v))
}

// FitsFrame reports whether a payload of n bytes can be described by the
// 32-bit length fields of this protocol.
func FitsFrame(n int) bool {
	return n >= 0 && n == int(uint32(n))
}

// EncodeRequest produces the complete request frame (header plus payload) as
// a single buffer, so the caller can issue it as one write.
// The payload length must satisfy FitsFrame.
func EncodeRequest(req Request) []byte {
	nowLow, nowHigh := splitI64IntoU32s(req.Now)
	header := struct {
		Magic            uint32
		SeqNum           uint32
		PendingRemaining uint32
		NowLow           uint32
		NowHigh          uint32
		DataLength       uint32
	}{
		Magic:            LeaderMagic,
		SeqNum:           req.SeqNum,
		PendingRemaining: req.PendingRemaining,
		NowLow:           nowLow,
		NowHigh:          nowHigh,
		DataLength:       convertIntToU32(len(req.Data)),
	}
	out := bytes.NewBuffer(make([]byte, 0, RequestHeaderSize+len(req.Data)))
	if err := binary.Write(out, binary.BigEndian, &header); err != nil {
		panic("cannot fail to write header into memory buffer")
	}
	out.Write(req.Data)
	return out.Bytes()
}

// DecodeRequest reads one request frame from the stream. An io.EOF before the
// first header byte is passed through unchanged, so a disconnection at a
// frame boundary is distinguishable from a truncated frame.
func DecodeRequest(r io.Reader) (Request, error) {
	var header struct {
		Magic            uint32
		SeqNum           uint32
		PendingRemaining uint32
		NowLow           uint32
		NowHigh          uint32
		DataLength       uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return Request{}, err
	}
	if header.Magic != LeaderMagic {
		return Request{}, fmt.Errorf("%w: received request with magic number %x instead of %x",
			ErrBadMagic, header.Magic, uint32(LeaderMagic))
	}
	req := Request{
		SeqNum:           header.SeqNum,
		PendingRemaining: header.PendingRemaining,
		Now:              mergeU32sIntoI64(header.NowLow, header.NowHigh),
		Data:             make([]byte, header.DataLength),
	}
	if _, err := io.ReadFull(r, req.Data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Request{}, err
	}
	return req, nil
}

// EncodeReply produces the complete reply frame as a single buffer.
// The payload length must satisfy FitsFrame.
func EncodeReply(reply Reply) []byte {
	expireAtLow, expireAtHigh := splitI64IntoU32s(reply.ExpireAt)
	header := struct {
		Magic        uint32
		SeqNum       uint32
		ExpireAtLow  uint32
		ExpireAtHigh uint32
		DataLength   uint32
	}{
		Magic:        FollowerMagic,
		SeqNum:       reply.SeqNum,
		ExpireAtLow:  expireAtLow,
		ExpireAtHigh: expireAtHigh,
		DataLength:   convertIntToU32(len(reply.Data)),
	}
	out := bytes.NewBuffer(make([]byte, 0, ReplyHeaderSize+len(reply.Data)))
	if err := binary.Write(out, binary.BigEndian, &header); err != nil {
		panic("cannot fail to write header into memory buffer")
	}
	out.Write(reply.Data)
	return out.Bytes()
}

// DecodeReplyHeader reads and validates the fixed reply header; the caller is
// responsible for reading exactly DataLength payload bytes afterward.
func DecodeReplyHeader(r io.Reader) (ReplyHeader, error) {
	var header struct {
		Magic        uint32
		SeqNum       uint32
		ExpireAtLow  uint32
		ExpireAtHigh uint32
		DataLength   uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return ReplyHeader{}, err
	}
	if header.Magic != FollowerMagic {
		return ReplyHeader{}, fmt.Errorf("%w: received reply with magic number %x instead of %x",
			ErrBadMagic, header.Magic, uint32(FollowerMagic))
	}
	return ReplyHeader{
		SeqNum:     header.SeqNum,
		ExpireAt:   mergeU32sIntoI64(header.ExpireAtLow, header.ExpireAtHigh),
		DataLength: header.DataLength,
	}, nil
}

// DecodeReply reads one complete reply frame, payload included.
func DecodeReply(r io.Reader) (Reply, error) {
	header, err := DecodeReplyHeader(r)
	if err != nil {
		return Reply{}, err
	}
	reply := Reply{
		SeqNum:   header.SeqNum,
		ExpireAt: header.ExpireAt,
		Data:     make([]byte, header.DataLength),
	}
	if _, err := io.ReadFull(r, reply.Data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Reply{}, err
	}
	return reply, nil
}
