package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nhatientri/Buckshot/internal/protocol"
)

// ReplayExt is the replay file extension.
const ReplayExt = ".replay"

// ReplayStore persists match snapshot logs as flat files. A replay file
// is a uint32 little-endian snapshot count followed by that many
// fixed-size game state packets.
type ReplayStore struct {
	logger zerolog.Logger
	dir    string
}

// NewReplayStore creates the replay directory if needed.
func NewReplayStore(dir string) (*ReplayStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create replay directory: %w", err)
	}
	return &ReplayStore{
		logger: log.With().Str("component", "replays").Logger(),
		dir:    dir,
	}, nil
}

// Dir returns the replay directory path.
func (rs *ReplayStore) Dir() string { return rs.dir }

// Save writes a match's snapshot log and returns the file name.
func (rs *ReplayStore) Save(winner, loser string, snapshots []protocol.GameStatePacket) (string, error) {
	name := fmt.Sprintf("%d_%s_vs_%s%s", time.Now().Unix(), winner, loser, ReplayExt)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(snapshots))); err != nil {
		return "", fmt.Errorf("failed to encode snapshot count: %w", err)
	}
	for _, snap := range snapshots {
		buf.Write(protocol.EncodeGameStatePacket(snap))
	}

	path := filepath.Join(rs.dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write replay %s: %w", name, err)
	}

	rs.logger.Info().Str("file", name).Int("snapshots", len(snapshots)).Msg("replay saved")
	return name, nil
}

// List returns replay file names, newest first. A non-empty filter keeps
// only names containing it, which is how clients list replays per user.
func (rs *ReplayStore) List(filter string) ([]string, error) {
	entries, err := os.ReadDir(rs.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay directory: %w", err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ReplayExt) {
			continue
		}
		if filter != "" && !strings.Contains(e.Name(), filter) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// Load reads one replay by file name. The name is flattened to its base
// so clients cannot escape the replay directory.
func (rs *ReplayStore) Load(name string) ([]protocol.GameStatePacket, error) {
	path := filepath.Join(rs.dir, filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay %s: %w", name, err)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("replay %s: truncated header", name)
	}

	count := binary.LittleEndian.Uint32(data[:4])
	body := data[4:]
	if int(count)*protocol.GameStatePacketSize != len(body) {
		return nil, fmt.Errorf("replay %s: size mismatch, header says %d snapshots", name, count)
	}

	out := make([]protocol.GameStatePacket, 0, count)
	for i := 0; i < int(count); i++ {
		chunk := body[i*protocol.GameStatePacketSize : (i+1)*protocol.GameStatePacketSize]
		snap, err := protocol.DecodeGameStatePacket(chunk)
		if err != nil {
			return nil, fmt.Errorf("replay %s: snapshot %d: %w", name, i, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// Raw returns a replay's on-disk bytes for wire transfer and HTTP
// download without a decode round trip.
func (rs *ReplayStore) Raw(name string) ([]byte, error) {
	path := filepath.Join(rs.dir, filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay %s: %w", name, err)
	}
	return data, nil
}

// Prune deletes replays older than maxAge and returns how many were
// removed. A zero maxAge disables pruning.
func (rs *ReplayStore) Prune(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(rs.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read replay directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ReplayExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(rs.dir, e.Name())); err != nil {
				rs.logger.Warn().Err(err).Str("file", e.Name()).Msg("failed to prune replay")
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		rs.logger.Info().Int("removed", removed).Msg("old replays pruned")
	}
	return removed, nil
}
