// Package cli implements the interactive operator console. It reads
// commands from stdin and renders live server state as tables.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/nhatientri/Buckshot/internal/config"
	"github.com/nhatientri/Buckshot/internal/events"
	"github.com/nhatientri/Buckshot/internal/server"
	"github.com/nhatientri/Buckshot/internal/store"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	game     *server.Server
	users    *store.UserStore
	replays  *store.ReplayStore
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, game *server.Server, users *store.UserStore, replays *store.ReplayStore) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		game:     game,
		users:    users,
		replays:  replays,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nBuckshot CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader()
	defer reader.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("buckshot> ")
		if err != nil {
			if err == io.EOF {
				log.Debug().Msg("CLI: stdin closed")
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers()
	case "sessions":
		c.printSessions()
	case "leaderboard", "top":
		return c.printLeaderboard()
	case "history":
		return c.printHistory(args)
	case "replays":
		return c.printReplays(args)
	case "replay":
		return c.printReplayDetail(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down Buckshot...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     Buckshot CLI Commands                    ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show server status summary              ║")
	fmt.Println("║  players            List online players                     ║")
	fmt.Println("║  sessions           List active game sessions               ║")
	fmt.Println("║  leaderboard        Show the top rated players              ║")
	fmt.Println("║  history <user>     Show a player's match history           ║")
	fmt.Println("║  replays [filter]   List saved replay files                 ║")
	fmt.Println("║  replay <name>      Inspect a saved replay                  ║")
	fmt.Println("║  quit               Shutdown the server                     ║")
	fmt.Println("║  help               Show this help message                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus displays a one-screen server summary.
func (c *CLI) printStatus() {
	stats := c.game.Stats()
	srvCfg := c.cfg.GetServer()

	fmt.Printf("\n  Server Name:     %s\n", srvCfg.Name)
	fmt.Printf("  Game Port:       %d\n", srvCfg.GamePort)
	fmt.Printf("  API Port:        %d\n", srvCfg.APIPort)
	fmt.Printf("  Uptime:          %s\n", c.game.Uptime().Round(time.Second))
	fmt.Printf("  Online Players:  %d\n", len(stats.OnlinePlayers))
	fmt.Printf("  Active Sessions: %d\n", len(stats.ActiveSessions))
	fmt.Printf("  Queue Depth:     %d\n", stats.QueueDepth)
	fmt.Println()
}

// printPlayers lists online players in a table.
func (c *CLI) printPlayers() {
	stats := c.game.Stats()
	if len(stats.OnlinePlayers) == 0 {
		fmt.Println("No players online.")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Player", "Elo", "Status"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range stats.OnlinePlayers {
		status := "LOBBY"
		if p.InGame {
			status = "IN GAME"
		}
		tw.Append([]string{p.Username, fmt.Sprintf("%d", p.Elo), status})
	}

	tw.Render()
	fmt.Println()
}

// printSessions lists active game sessions in a table.
func (c *CLI) printSessions() {
	stats := c.game.Stats()
	if len(stats.ActiveSessions) == 0 {
		fmt.Println("No active sessions.")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Player 1", "Player 2", "Turn", "Type", "State"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, sess := range stats.ActiveSessions {
		kind := "PVP"
		if sess.AIMatch {
			kind = "VS AI"
		}
		state := "RUNNING"
		if sess.Paused {
			state = "PAUSED"
		}
		tw.Append([]string{sess.Player1, sess.Player2, sess.Turn, kind, state})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) printLeaderboard() error {
	entries, err := c.users.Leaderboard()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No registered players yet.")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Rank", "Player", "Elo", "Wins", "Losses"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for i, e := range entries {
		tw.Append([]string{
			fmt.Sprintf("%d", i+1),
			e.Username,
			fmt.Sprintf("%d", e.Elo),
			fmt.Sprintf("%d", e.Wins),
			fmt.Sprintf("%d", e.Losses),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) printHistory(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: history <username>")
	}
	username := args[0]

	exists, err := c.users.Exists(username)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("unknown player: %s", username)
	}

	entries, err := c.users.History(username)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("No matches recorded for %s.\n", username)
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Played At", "Opponent", "Result", "Elo"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, e := range entries {
		tw.Append([]string{
			e.Timestamp,
			e.Opponent,
			e.Result,
			fmt.Sprintf("%+d", e.EloChange),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) printReplays(args []string) error {
	filter := ""
	if len(args) > 0 {
		filter = args[0]
	}

	names, err := c.replays.List(filter)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No replays found.")
		return nil
	}

	fmt.Println()
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
	fmt.Printf("\n%d replay(s) in %s\n\n", len(names), c.replays.Dir())
	return nil
}

// printReplayDetail decodes a replay file and summarizes the match it
// recorded, turn by turn.
func (c *CLI) printReplayDetail(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: replay <name>")
	}

	snapshots, err := c.replays.Load(args[0])
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Println("Replay contains no turns.")
		return nil
	}

	final := snapshots[len(snapshots)-1]
	fmt.Printf("\n  Match:   %s vs %s\n", final.P1Name, final.P2Name)
	fmt.Printf("  Turns:   %d\n", len(snapshots))
	if final.GameOver {
		fmt.Printf("  Winner:  %s\n", final.Winner)
	} else {
		fmt.Println("  Winner:  (match did not conclude)")
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Turn", "P1 HP", "P2 HP", "Shells", "Message"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for i, snap := range snapshots {
		tw.Append([]string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%d", snap.P1HP),
			fmt.Sprintf("%d", snap.P2HP),
			fmt.Sprintf("%d", snap.ShellsRemaining),
			snap.Message,
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

// lineReader is a simple cross-platform line reader.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader() *lineReader {
	return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}

func (lr *lineReader) Close() error {
	return nil
}
