package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ErrFrameTooLarge is returned when a header declares a payload above
// MaxPayloadSize. The connection carrying such a frame must be dropped.
var ErrFrameTooLarge = fmt.Errorf("frame exceeds %d bytes", MaxPayloadSize)

// ReadFrame reads a single framed message from a reader.
// Blocks until the full declared payload has arrived.
func ReadFrame(r io.Reader) (cmd byte, payload []byte, err error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	size := binary.LittleEndian.Uint32(hdr[:4])
	cmd = hdr[4]

	if size > MaxPayloadSize {
		return 0, nil, ErrFrameTooLarge
	}
	if size == 0 {
		return cmd, nil, nil
	}

	payload = make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("failed to read frame payload (%d bytes): %w", size, err)
	}
	return cmd, payload, nil
}

// WriteFrame writes a framed message to a writer.
func WriteFrame(w io.Writer, cmd byte, payload []byte) error {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	hdr[4] = cmd

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("failed to write frame payload: %w", err)
		}
	}
	return nil
}

// readFixedString reads an n-byte NUL-padded string field.
func readFixedString(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf, "\x00")), nil
}

// TrimName truncates a string to fit a NameLen wire field.
func TrimName(s string) string {
	if len(s) > NameLen-1 {
		return s[:NameLen-1]
	}
	return s
}

// DecodeLoginRequest parses a REGISTER/LOGIN payload.
func DecodeLoginRequest(payload []byte) (LoginRequest, error) {
	if len(payload) != LoginRequestSize {
		return LoginRequest{}, fmt.Errorf("login request: want %d bytes, got %d", LoginRequestSize, len(payload))
	}
	r := bytes.NewReader(payload)
	username, _ := readFixedString(r, NameLen)
	password, _ := readFixedString(r, NameLen)
	return LoginRequest{Username: username, Password: password}, nil
}

// DecodeChallengePacket parses a challenge or friend-operation payload.
func DecodeChallengePacket(payload []byte) (ChallengePacket, error) {
	if len(payload) != ChallengePacketSize {
		return ChallengePacket{}, fmt.Errorf("challenge packet: want %d bytes, got %d", ChallengePacketSize, len(payload))
	}
	target, _ := readFixedString(bytes.NewReader(payload), NameLen)
	return ChallengePacket{TargetUser: target}, nil
}

// DecodeMovePayload parses a GAME_MOVE payload.
func DecodeMovePayload(payload []byte) (MovePayload, error) {
	if len(payload) != MovePayloadSize {
		return MovePayload{}, fmt.Errorf("move payload: want %d bytes, got %d", MovePayloadSize, len(payload))
	}
	return MovePayload{
		Move: MoveType(payload[0]),
		Item: ItemType(payload[1]),
	}, nil
}

// DecodeGameStatePacket parses an encoded session snapshot. Used by replay
// loading and by tests; the server itself only encodes.
func DecodeGameStatePacket(payload []byte) (GameStatePacket, error) {
	if len(payload) != GameStatePacketSize {
		return GameStatePacket{}, fmt.Errorf("game state packet: want %d bytes, got %d", GameStatePacketSize, len(payload))
	}

	r := bytes.NewReader(payload)
	var pkt GameStatePacket

	for _, dst := range []*int32{&pkt.P1HP, &pkt.P2HP, &pkt.ShellsRemaining, &pkt.LiveCount, &pkt.BlankCount} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return GameStatePacket{}, fmt.Errorf("failed to parse state counters: %w", err)
		}
	}

	var inv [2 * InventorySize]byte
	if _, err := io.ReadFull(r, inv[:]); err != nil {
		return GameStatePacket{}, fmt.Errorf("failed to parse inventories: %w", err)
	}
	for i := 0; i < InventorySize; i++ {
		pkt.P1Inventory[i] = ItemType(inv[i])
		pkt.P2Inventory[i] = ItemType(inv[InventorySize+i])
	}

	var flags [3]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return GameStatePacket{}, fmt.Errorf("failed to parse flags: %w", err)
	}
	pkt.P1Handcuffed = flags[0] == 1
	pkt.P2Handcuffed = flags[1] == 1
	pkt.KnifeActive = flags[2] == 1

	pkt.CurrentTurnUser, _ = readFixedString(r, NameLen)
	pkt.P1Name, _ = readFixedString(r, NameLen)
	pkt.P2Name, _ = readFixedString(r, NameLen)
	pkt.Message, _ = readFixedString(r, MessageLen)

	var over byte
	if err := binary.Read(r, binary.LittleEndian, &over); err != nil {
		return GameStatePacket{}, fmt.Errorf("failed to parse game-over flag: %w", err)
	}
	pkt.GameOver = over == 1
	pkt.Winner, _ = readFixedString(r, NameLen)

	for _, dst := range []*int32{&pkt.TurnTimeRemaining, &pkt.P1EloChange, &pkt.P2EloChange} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return GameStatePacket{}, fmt.Errorf("failed to parse state trailers: %w", err)
		}
	}

	var paused byte
	if err := binary.Read(r, binary.LittleEndian, &paused); err != nil {
		return GameStatePacket{}, fmt.Errorf("failed to parse pause flag: %w", err)
	}
	pkt.IsPaused = paused == 1

	return pkt, nil
}
