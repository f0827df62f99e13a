package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs fixed-layout payloads field by field.
// All multi-byte values are little-endian.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteBool writes a bool as a single 0/1 byte.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		b.buf.WriteByte(1)
	} else {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteFixedString writes an n-byte NUL-padded string field.
// Longer strings are truncated to n-1 bytes so the field always
// terminates.
func (b *PacketBuilder) WriteFixedString(s string, n int) *PacketBuilder {
	data := []byte(s)
	if len(data) > n-1 {
		data = data[:n-1]
	}
	b.buf.Write(data)
	for i := len(data); i < n; i++ {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed payload bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the payload being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current payload for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Pre-built payload constructors ----

// EncodeLoginRequest builds a REGISTER/LOGIN payload.
func EncodeLoginRequest(req LoginRequest) []byte {
	b := NewPacketBuilder()
	b.WriteFixedString(req.Username, NameLen)
	b.WriteFixedString(req.Password, NameLen)
	return b.Build()
}

// EncodeChallengePacket builds a challenge/friend payload.
func EncodeChallengePacket(pkt ChallengePacket) []byte {
	return NewPacketBuilder().WriteFixedString(pkt.TargetUser, NameLen).Build()
}

// EncodeMovePayload builds a GAME_MOVE payload.
func EncodeMovePayload(mv MovePayload) []byte {
	return []byte{byte(mv.Move), byte(mv.Item)}
}

// EncodeGameStatePacket builds a GAME_STATE payload. The layout is the
// contract for both the socket push and the on-disk replay format, so the
// encoded size must always equal GameStatePacketSize.
func EncodeGameStatePacket(pkt GameStatePacket) []byte {
	b := NewPacketBuilder()

	b.WriteInt32(pkt.P1HP)
	b.WriteInt32(pkt.P2HP)
	b.WriteInt32(pkt.ShellsRemaining)
	b.WriteInt32(pkt.LiveCount)
	b.WriteInt32(pkt.BlankCount)

	for _, it := range pkt.P1Inventory {
		b.WriteByte(byte(it))
	}
	for _, it := range pkt.P2Inventory {
		b.WriteByte(byte(it))
	}

	b.WriteBool(pkt.P1Handcuffed)
	b.WriteBool(pkt.P2Handcuffed)
	b.WriteBool(pkt.KnifeActive)

	b.WriteFixedString(pkt.CurrentTurnUser, NameLen)
	b.WriteFixedString(pkt.P1Name, NameLen)
	b.WriteFixedString(pkt.P2Name, NameLen)
	b.WriteFixedString(pkt.Message, MessageLen)

	b.WriteBool(pkt.GameOver)
	b.WriteFixedString(pkt.Winner, NameLen)

	b.WriteInt32(pkt.TurnTimeRemaining)
	b.WriteInt32(pkt.P1EloChange)
	b.WriteInt32(pkt.P2EloChange)
	b.WriteBool(pkt.IsPaused)

	return b.Build()
}

// EncodeHistoryEntries builds a HISTORY_DATA payload from history rows.
func EncodeHistoryEntries(entries []HistoryEntry) []byte {
	b := NewPacketBuilder()
	for _, e := range entries {
		b.WriteFixedString(e.Timestamp, NameLen)
		b.WriteFixedString(e.Opponent, NameLen)
		b.WriteFixedString(e.Result, ResultLen)
		b.WriteInt32(e.EloChange)
		b.WriteFixedString(e.ReplayFile, ReplayFileLen)
	}
	return b.Build()
}
