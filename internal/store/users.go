package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nhatientri/Buckshot/internal/protocol"
)

const (
	// DefaultElo is the rating assigned to new accounts and assumed for
	// players without an account row (the AI).
	DefaultElo = 1000

	// eloK is the ELO K-factor.
	eloK = 32

	// LeaderboardSize caps the leaderboard query.
	LeaderboardSize = 10
)

// Friend request states.
const (
	FriendPending  = "PENDING"
	FriendAccepted = "ACCEPTED"
)

var (
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrSelfFriend         = errors.New("cannot friend yourself")
	ErrFriendExists       = errors.New("friend relation already exists")
	ErrNoPendingRequest   = errors.New("no pending request from that user")
)

// UserRecord is one account row.
type UserRecord struct {
	Username string `json:"username"`
	Elo      int    `json:"elo"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

// FriendRelation is one friend row from the perspective of a query.
type FriendRelation struct {
	Requester string
	Target    string
	Status    string
}

// UserStore manages accounts, ratings, match history, and friends.
type UserStore struct {
	db *Database
}

// NewUserStore opens the store and runs schema migration.
func NewUserStore(dbPath string) (*UserStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	us := &UserStore{db: database}
	if err := us.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate user store: %w", err)
	}
	return us, nil
}

// Close closes the underlying database.
func (us *UserStore) Close() error {
	return us.db.Close()
}

func (us *UserStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			elo INTEGER NOT NULL DEFAULT 1000,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS match_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			opponent TEXT NOT NULL,
			result TEXT NOT NULL,
			elo_change INTEGER NOT NULL,
			replay_file TEXT NOT NULL DEFAULT '',
			played_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS friends (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			requester TEXT NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(requester, target)
		);

		CREATE INDEX IF NOT EXISTS idx_users_elo ON users(elo);
		CREATE INDEX IF NOT EXISTS idx_history_username ON match_history(username);
		CREATE INDEX IF NOT EXISTS idx_friends_target ON friends(target);
	`

	if _, err := us.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("user store schema migrated")
	return nil
}

// Register creates a new account at the default rating.
func (us *UserStore) Register(username, password string) error {
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}

	var exists int
	err := us.db.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if exists > 0 {
		return ErrUserExists
	}

	_, err = us.db.Exec(
		"INSERT INTO users (username, password, elo) VALUES (?, ?, ?)",
		username, password, DefaultElo,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	log.Info().Str("username", username).Msg("user registered")
	return nil
}

// Login validates credentials.
func (us *UserStore) Login(username, password string) error {
	var stored string
	err := us.db.QueryRow("SELECT password FROM users WHERE username = ?", username).Scan(&stored)
	if err == sql.ErrNoRows {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if stored != password {
		return ErrInvalidCredentials
	}
	return nil
}

// Exists reports whether an account row exists for the username.
func (us *UserStore) Exists(username string) (bool, error) {
	var count int
	err := us.db.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return count > 0, nil
}

// Elo returns a player's rating. Players with no account row (the AI)
// rate as DefaultElo.
func (us *UserStore) Elo(username string) int {
	var elo int
	err := us.db.QueryRow("SELECT elo FROM users WHERE username = ?", username).Scan(&elo)
	if err != nil {
		return DefaultElo
	}
	return elo
}

// RecordMatch applies the ELO exchange for a concluded match and bumps
// the win/loss counters. Deltas use the classic formula with K=32 and
// are truncated toward zero, so both sides move by the same magnitude.
// Players without an account row rate as DefaultElo and are not written.
func (us *UserStore) RecordMatch(winner, loser string) (winnerDelta, loserDelta int, err error) {
	winnerElo := us.Elo(winner)
	loserElo := us.Elo(loser)

	expected := 1.0 / (1.0 + math.Pow(10, float64(loserElo-winnerElo)/400.0))
	delta := int(eloK * (1.0 - expected))
	winnerDelta = delta
	loserDelta = -delta

	if _, err := us.db.Exec(
		"UPDATE users SET elo = elo + ?, wins = wins + 1 WHERE username = ?",
		winnerDelta, winner,
	); err != nil {
		return 0, 0, fmt.Errorf("failed to update winner: %w", err)
	}
	if _, err := us.db.Exec(
		"UPDATE users SET elo = elo + ?, losses = losses + 1 WHERE username = ?",
		loserDelta, loser,
	); err != nil {
		return 0, 0, fmt.Errorf("failed to update loser: %w", err)
	}

	log.Info().
		Str("winner", winner).Str("loser", loser).
		Int("delta", delta).
		Msg("match recorded")
	return winnerDelta, loserDelta, nil
}

// Leaderboard returns the top rated players, highest first.
func (us *UserStore) Leaderboard() ([]UserRecord, error) {
	rows, err := us.db.Query(
		"SELECT username, elo, wins, losses FROM users ORDER BY elo DESC, username ASC LIMIT ?",
		LeaderboardSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []UserRecord
	for rows.Next() {
		var r UserRecord
		if err := rows.Scan(&r.Username, &r.Elo, &r.Wins, &r.Losses); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddHistory appends one match history row for a player. Called once per
// participant with an account row when a session settles.
func (us *UserStore) AddHistory(username, opponent, result string, eloChange int, replayFile string) error {
	_, err := us.db.Exec(
		"INSERT INTO match_history (username, opponent, result, elo_change, replay_file, played_at) VALUES (?, ?, ?, ?, ?, ?)",
		username, opponent, result, eloChange, replayFile,
		time.Now().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("failed to insert history row: %w", err)
	}
	return nil
}

// History returns a player's match history, newest first.
func (us *UserStore) History(username string) ([]protocol.HistoryEntry, error) {
	rows, err := us.db.Query(
		"SELECT played_at, opponent, result, elo_change, replay_file FROM match_history WHERE username = ? ORDER BY id DESC",
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []protocol.HistoryEntry
	for rows.Next() {
		var e protocol.HistoryEntry
		if err := rows.Scan(&e.Timestamp, &e.Opponent, &e.Result, &e.EloChange, &e.ReplayFile); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddFriend files a pending friend request. The target must be a real
// account, distinct from the requester, with no relation in either
// direction yet.
func (us *UserStore) AddFriend(requester, target string) error {
	if requester == target {
		return ErrSelfFriend
	}
	exists, err := us.Exists(target)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}

	var count int
	err = us.db.QueryRow(
		"SELECT COUNT(*) FROM friends WHERE (requester = ? AND target = ?) OR (requester = ? AND target = ?)",
		requester, target, target, requester,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check friend relation: %w", err)
	}
	if count > 0 {
		return ErrFriendExists
	}

	_, err = us.db.Exec(
		"INSERT INTO friends (requester, target, status) VALUES (?, ?, ?)",
		requester, target, FriendPending,
	)
	if err != nil {
		return fmt.Errorf("failed to insert friend request: %w", err)
	}
	return nil
}

// AcceptFriend promotes a pending request. Only the target of the
// request can accept it.
func (us *UserStore) AcceptFriend(target, requester string) error {
	res, err := us.db.Exec(
		"UPDATE friends SET status = ? WHERE requester = ? AND target = ? AND status = ?",
		FriendAccepted, requester, target, FriendPending,
	)
	if err != nil {
		return fmt.Errorf("failed to accept friend request: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNoPendingRequest
	}
	return nil
}

// RemoveFriend deletes the relation between two users in either
// direction, pending or accepted.
func (us *UserStore) RemoveFriend(user, other string) error {
	_, err := us.db.Exec(
		"DELETE FROM friends WHERE (requester = ? AND target = ?) OR (requester = ? AND target = ?)",
		user, other, other, user,
	)
	if err != nil {
		return fmt.Errorf("failed to remove friend: %w", err)
	}
	return nil
}

// Friends returns the usernames of a player's accepted friends.
func (us *UserStore) Friends(username string) ([]string, error) {
	rows, err := us.db.Query(
		`SELECT CASE WHEN requester = ? THEN target ELSE requester END
		 FROM friends
		 WHERE (requester = ? OR target = ?) AND status = ?
		 ORDER BY 1`,
		username, username, username, FriendAccepted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query friends: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan friend row: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// IncomingRequests returns usernames with a pending request aimed at
// this player.
func (us *UserStore) IncomingRequests(username string) ([]string, error) {
	rows, err := us.db.Query(
		"SELECT requester FROM friends WHERE target = ? AND status = ? ORDER BY id",
		username, FriendPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query friend requests: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan request row: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// AllUsers returns every account, for the online-list and admin views.
func (us *UserStore) AllUsers() ([]UserRecord, error) {
	rows, err := us.db.Query("SELECT username, elo, wins, losses FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var out []UserRecord
	for rows.Next() {
		var r UserRecord
		if err := rows.Scan(&r.Username, &r.Elo, &r.Wins, &r.Losses); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
