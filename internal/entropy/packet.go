// Package entropy defines the wire format shared by the Collector and the
// Gateway: the framed, signed, sequenced Entropy Packet that crosses the
// process boundary.
package entropy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the only wire version this package produces or accepts.
const ProtocolVersion = 1

const (
	offsetVersion   = 0
	offsetUUID      = 1
	offsetSequence  = 17
	offsetTimestamp = 25
	offsetLength    = 33
	headerSize      = 37 // offsetLength + 4
	crcSize         = 4
	hmacSize        = sha256.Size
)

// Packet is the decoded form of an Entropy Packet: version, UUID, monotonic
// sequence, millisecond UTC timestamp, payload bytes, and the CRC32/HMAC
// trailers computed over that payload.
type Packet struct {
	Version   uint8
	UUID      uuid.UUID
	Sequence  uint64
	Timestamp time.Time
	Payload   []byte
	CRC32     uint32
	HMAC      [hmacSize]byte
}

// NewPacket builds and signs a packet for the given sequence/payload using
// secret as the shared HMAC key. Timestamp is truncated to millisecond
// precision, matching the wire format.
func NewPacket(sequence uint64, payload []byte, secret []byte, now time.Time) (*Packet, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("entropy: packet payload must be non-empty")
	}

	p := &Packet{
		Version:   ProtocolVersion,
		UUID:      uuid.New(),
		Sequence:  sequence,
		Timestamp: now.UTC().Truncate(time.Millisecond),
		Payload:   payload,
		CRC32:     crc32.ChecksumIEEE(payload),
	}
	p.HMAC = signTag(payload, p.Timestamp, sequence, secret)
	return p, nil
}

// canonicalTriple returns payload ‖ timestamp-BE-8-bytes ‖ sequence-BE-8-bytes,
// the input to the HMAC — distinct from the little-endian wire encoding used
// for the rest of the frame.
func canonicalTriple(payload []byte, ts time.Time, sequence uint64) []byte {
	buf := make([]byte, 0, len(payload)+16)
	buf = append(buf, payload...)

	var tsBE [8]byte
	binary.BigEndian.PutUint64(tsBE[:], uint64(ts.UnixMilli()))
	buf = append(buf, tsBE[:]...)

	var seqBE [8]byte
	binary.BigEndian.PutUint64(seqBE[:], sequence)
	buf = append(buf, seqBE[:]...)

	return buf
}

func signTag(payload []byte, ts time.Time, sequence uint64, secret []byte) [hmacSize]byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonicalTriple(payload, ts, sequence))
	var tag [hmacSize]byte
	copy(tag[:], mac.Sum(nil))
	return tag
}

// VerifyHMAC recomputes the HMAC over the packet's canonical triple and
// compares it to the stored tag in constant time.
func (p *Packet) VerifyHMAC(secret []byte) bool {
	want := signTag(p.Payload, p.Timestamp, p.Sequence, secret)
	return hmac.Equal(want[:], p.HMAC[:])
}

// VerifyCRC recomputes the payload CRC32 and compares it to the stored value.
func (p *Packet) VerifyCRC() bool {
	return crc32.ChecksumIEEE(p.Payload) == p.CRC32
}

// Encode serializes the packet into the little-endian wire frame described
// in the external-interfaces layout: version, UUID, sequence, timestamp,
// length-prefixed payload, CRC32, HMAC tag.
func (p *Packet) Encode() []byte {
	buf := make([]byte, headerSize+len(p.Payload)+crcSize+hmacSize)

	buf[offsetVersion] = p.Version
	copy(buf[offsetUUID:offsetUUID+16], p.UUID[:])
	binary.LittleEndian.PutUint64(buf[offsetSequence:offsetSequence+8], p.Sequence)
	binary.LittleEndian.PutUint64(buf[offsetTimestamp:offsetTimestamp+8], uint64(p.Timestamp.UnixMilli()))
	binary.LittleEndian.PutUint32(buf[offsetLength:offsetLength+4], uint32(len(p.Payload)))

	payloadStart := headerSize
	copy(buf[payloadStart:payloadStart+len(p.Payload)], p.Payload)

	crcOffset := payloadStart + len(p.Payload)
	binary.LittleEndian.PutUint32(buf[crcOffset:crcOffset+4], p.CRC32)

	hmacOffset := crcOffset + crcSize
	copy(buf[hmacOffset:hmacOffset+hmacSize], p.HMAC[:])

	return buf
}

// Decode parses a wire frame into a Packet without verifying CRC or HMAC;
// callers run the admission algorithm's checks in order themselves.
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("entropy: frame shorter than header (%d bytes)", len(raw))
	}

	version := raw[offsetVersion]
	if version != ProtocolVersion {
		return nil, fmt.Errorf("entropy: unsupported protocol version %d", version)
	}

	var id uuid.UUID
	copy(id[:], raw[offsetUUID:offsetUUID+16])

	sequence := binary.LittleEndian.Uint64(raw[offsetSequence : offsetSequence+8])
	tsMillis := binary.LittleEndian.Uint64(raw[offsetTimestamp : offsetTimestamp+8])
	length := binary.LittleEndian.Uint32(raw[offsetLength : offsetLength+4])

	payloadStart := headerSize
	payloadEnd := payloadStart + int(length)
	trailerEnd := payloadEnd + crcSize + hmacSize
	if len(raw) < trailerEnd {
		return nil, fmt.Errorf("entropy: frame truncated: want %d bytes, have %d", trailerEnd, len(raw))
	}
	if len(raw) != trailerEnd {
		return nil, fmt.Errorf("entropy: frame has %d trailing bytes", len(raw)-trailerEnd)
	}
	if length == 0 {
		return nil, fmt.Errorf("entropy: payload length is zero")
	}

	payload := make([]byte, length)
	copy(payload, raw[payloadStart:payloadEnd])

	crcVal := binary.LittleEndian.Uint32(raw[payloadEnd : payloadEnd+4])

	var tag [hmacSize]byte
	copy(tag[:], raw[payloadEnd+crcSize:trailerEnd])

	return &Packet{
		Version:   version,
		UUID:      id,
		Sequence:  sequence,
		Timestamp: time.UnixMilli(int64(tsMillis)).UTC(),
		Payload:   payload,
		CRC32:     crcVal,
		HMAC:      tag,
	}, nil
}
