// Package protocol implements the binary wire protocol spoken between the
// Buckshot server and its clients. Every message is a 5-byte header
// (uint32 little-endian payload size + 1-byte command) followed by the
// payload, which is either a fixed-layout structure or opaque text.
package protocol

// Command bytes shared with all clients.
const (
	CmdOK       byte = 0
	CmdRegister byte = 1
	CmdLogin    byte = 2
	CmdFail     byte = 255

	CmdListUsers     byte = 5
	CmdListUsersResp byte = 6

	CmdChallengeReq  byte = 10
	CmdChallengeResp byte = 11

	CmdGameStart  byte = 20
	CmdGameMove   byte = 21
	CmdGameState  byte = 22
	CmdGameResult byte = 23

	CmdLeaderboard     byte = 30
	CmdLeaderboardResp byte = 31

	CmdListReplays     byte = 40
	CmdListReplaysResp byte = 41
	CmdGetReplay       byte = 42
	CmdReplayData      byte = 43

	CmdPlayAI byte = 45

	CmdResign byte = 50

	CmdQueueJoin  byte = 60
	CmdQueueLeave byte = 61

	CmdTogglePause byte = 70

	CmdGetHistory  byte = 80
	CmdHistoryData byte = 81

	CmdFriendAdd         byte = 90
	CmdFriendAccept      byte = 91
	CmdFriendRemove      byte = 92
	CmdFriendList        byte = 93
	CmdFriendListResp    byte = 94
	CmdFriendReqIncoming byte = 95

	CmdError byte = 99
)

// MoveType identifies what a GAME_MOVE payload asks the session to do.
type MoveType uint8

const (
	MoveShootSelf     MoveType = 1
	MoveShootOpponent MoveType = 2
	MoveUseItem       MoveType = 3
)

// ItemType enumerates the usable items. Zero means an empty inventory slot.
type ItemType uint8

const (
	ItemNone            ItemType = 0
	ItemBeer            ItemType = 1
	ItemCigarettes      ItemType = 2
	ItemHandcuffs       ItemType = 3
	ItemMagnifyingGlass ItemType = 4
	ItemKnife           ItemType = 5
	ItemInverter        ItemType = 6
	ItemExpiredMedicine ItemType = 7
)

// itemNames maps items to the names used in event messages.
var itemNames = map[ItemType]string{
	ItemNone:            "NONE",
	ItemBeer:            "BEER",
	ItemCigarettes:      "CIGARETTES",
	ItemHandcuffs:       "HANDCUFFS",
	ItemMagnifyingGlass: "MAGNIFYING GLASS",
	ItemKnife:           "KNIFE",
	ItemInverter:        "INVERTER",
	ItemExpiredMedicine: "MEDICINE",
}

// String returns the display name of the item.
func (it ItemType) String() string {
	if s, ok := itemNames[it]; ok {
		return s
	}
	return "UNKNOWN"
}

// Valid reports whether the byte names a real item (not NONE).
func (it ItemType) Valid() bool {
	return it >= ItemBeer && it <= ItemExpiredMedicine
}

// Fixed field widths of the wire structures. All strings are NUL-padded ASCII.
const (
	HeaderSize = 5

	// MaxPayloadSize bounds the memory a single peer can demand with one
	// header. Anything above it is treated as a protocol violation and the
	// connection is dropped.
	MaxPayloadSize = 100000

	NameLen       = 32
	ResultLen     = 8
	MessageLen    = 128
	ReplayFileLen = 64
	InventorySize = 8

	LoginRequestSize    = 2 * NameLen
	ChallengePacketSize = NameLen
	MovePayloadSize     = 2
	HistoryEntrySize    = NameLen + NameLen + ResultLen + 4 + ReplayFileLen

	// GameStatePacketSize is the exact encoded size of GameStatePacket:
	// 5 int32 counters, two 8-slot inventories, 3 flag bytes, 3 names,
	// the message, game-over byte, winner, 3 int32 trailers, pause byte.
	GameStatePacketSize = 5*4 + 2*InventorySize + 3 + 3*NameLen + MessageLen + 1 + NameLen + 3*4 + 1
)

// Header precedes every payload on the wire.
type Header struct {
	Size    uint32
	Command byte
}

// LoginRequest is the payload of REGISTER and LOGIN.
type LoginRequest struct {
	Username string
	Password string
}

// ChallengePacket carries a single username: the challenge target, the
// accepted challenger, or a friend-operation subject.
type ChallengePacket struct {
	TargetUser string
}

// MovePayload is the payload of GAME_MOVE.
type MovePayload struct {
	Move MoveType
	Item ItemType
}

// GameStatePacket is the full read model of a session, pushed to both
// participants after every change and stored verbatim in replay files.
type GameStatePacket struct {
	P1HP            int32
	P2HP            int32
	ShellsRemaining int32
	LiveCount       int32
	BlankCount      int32

	P1Inventory [InventorySize]ItemType
	P2Inventory [InventorySize]ItemType

	P1Handcuffed bool
	P2Handcuffed bool
	KnifeActive  bool

	CurrentTurnUser string
	P1Name          string
	P2Name          string
	Message         string

	GameOver bool
	Winner   string

	TurnTimeRemaining int32
	P1EloChange       int32
	P2EloChange       int32
	IsPaused          bool
}

// HistoryEntry is one row of a player's match history as sent to clients.
type HistoryEntry struct {
	Timestamp  string
	Opponent   string
	Result     string // "WIN" or "LOSS"
	EloChange  int32
	ReplayFile string
}
