// Package cli implements the operator console: session inspection, kicks,
// raw broadcasts and account management from the shard's terminal.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/moongate-community/moongate/internal/db"
	"github.com/moongate-community/moongate/internal/events"
	"github.com/moongate-community/moongate/internal/network"
	"github.com/moongate-community/moongate/internal/protocol"
)

// AccountAdmin is the part of the account store the console manages.
type AccountAdmin interface {
	ListAccounts(ctx context.Context) ([]db.Account, error)
	CreateAccount(ctx context.Context, name, password string) error
	SetBanned(ctx context.Context, name string, banned bool) error
}

// Deps are the engine components the console drives.
type Deps struct {
	Connections *network.ConnectionRegistry
	Outbound    *network.Outbound
	Packets     *protocol.Registry
	Accounts    AccountAdmin
	EventBus    *events.EventBus
}

// CLI reads commands from in and writes results to out.
type CLI struct {
	deps Deps
	in   io.Reader
	out  io.Writer
}

// NewCLI creates a console over the given streams.
func NewCLI(deps Deps, in io.Reader, out io.Writer) *CLI {
	return &CLI{deps: deps, in: in, out: out}
}

// Start runs the read loop until ctx is cancelled, input ends, or the
// operator quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nMoongate console ready. Type 'help' for available commands.")

	scanner := bufio.NewScanner(c.in)
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprint(c.out, "moongate> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				log.Warn().Err(err).Msg("CLI: input closed")
			}
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// execute runs one command and reports whether the console should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions", "ls":
		c.printSessions()
	case "session":
		return false, c.printSession(args)
	case "kick":
		return false, c.cmdKick(ctx, args)
	case "packets":
		c.printPackets()
	case "broadcast":
		return false, c.cmdBroadcast(ctx, args)
	case "account":
		return false, c.cmdAccount(ctx, args)
	case "accounts":
		return false, c.printAccounts(ctx)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down Moongate...")
		if c.deps.EventBus != nil {
			c.deps.EventBus.Emit(ctx, events.Event{
				Type:   events.EventShutdown,
				Source: "cli",
			})
		}
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprint(c.out, `
  status                         Show shard totals
  sessions                       List live sessions
  session <id>                   Show one session
  kick <id> [reason]             Disconnect a session
  packets                        List registered packet definitions
  broadcast <hex>                Send a raw frame to every session
  accounts                       List accounts
  account add <name> <password>  Create an account
  account ban|unban <name>       Block or unblock an account
  quit                           Shut down the shard
  help                           Show this help message

`)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	conns := c.deps.Connections.Snapshot()
	byState := make(map[network.ConnState]int)
	for _, conn := range conns {
		byState[conn.State()]++
	}

	tw := c.newTable("Metric", "Value")
	tw.Append([]string{"sessions", strconv.Itoa(len(conns))})
	for _, st := range []network.ConnState{
		network.StateConnected,
		network.StateAuthenticating,
		network.StateAuthenticated,
		network.StateInGame,
	} {
		tw.Append([]string{"  " + st.String(), strconv.Itoa(byState[st])})
	}
	if c.deps.Packets != nil {
		tw.Append([]string{"packet definitions", strconv.Itoa(c.deps.Packets.Count())})
	}
	tw.Render()
}

func (c *CLI) printSessions() {
	conns := c.deps.Connections.Snapshot()
	if len(conns) == 0 {
		fmt.Fprintln(c.out, "No live sessions.")
		return
	}

	tw := c.newTable("ID", "Remote", "State", "Account", "Encrypted", "In", "Out", "Connected")
	for _, conn := range conns {
		s := conn.Stats()
		tw.Append([]string{
			s.ID,
			s.RemoteAddr,
			s.State.String(),
			orDash(s.Account),
			strconv.FormatBool(s.Encrypted),
			strconv.FormatUint(s.FramesIn, 10),
			strconv.FormatUint(s.FramesOut, 10),
			time.Since(s.ConnectedAt).Truncate(time.Second).String(),
		})
	}
	tw.Render()
}

func (c *CLI) printSession(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: session <id>")
	}
	conn, ok := c.deps.Connections.Get(args[0])
	if !ok {
		return fmt.Errorf("session %s not found", args[0])
	}

	s := conn.Stats()
	fmt.Fprintf(c.out, "\n  ID:             %s\n", s.ID)
	fmt.Fprintf(c.out, "  Remote:         %s\n", s.RemoteAddr)
	fmt.Fprintf(c.out, "  State:          %s\n", s.State)
	fmt.Fprintf(c.out, "  Account:        %s\n", orDash(s.Account))
	fmt.Fprintf(c.out, "  Client version: %s\n", orDash(s.ClientVersion))
	fmt.Fprintf(c.out, "  Encrypted:      %v\n", s.Encrypted)
	fmt.Fprintf(c.out, "  Connected at:   %s\n", s.ConnectedAt.Format(time.RFC3339))
	fmt.Fprintf(c.out, "  Last activity:  %s\n", s.LastActivity.Format(time.RFC3339))
	fmt.Fprintf(c.out, "  Bytes in/out:   %d / %d\n", s.BytesIn, s.BytesOut)
	fmt.Fprintf(c.out, "  Frames in/out:  %d / %d\n", s.FramesIn, s.FramesOut)
	if s.StallReason != "" {
		fmt.Fprintf(c.out, "  Stalled since:  %s (%s)\n", s.StalledSince.Format(time.RFC3339), s.StallReason)
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <id> [reason]")
	}
	reason := "kicked by operator"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}

	if err := c.deps.Connections.Kick(ctx, args[0], reason); err != nil {
		if errors.Is(err, network.ErrUnknownConnection) {
			return fmt.Errorf("session %s not found", args[0])
		}
		return err
	}
	fmt.Fprintf(c.out, "Session %s kicked\n", args[0])
	return nil
}

func (c *CLI) printPackets() {
	tw := c.newTable("OpCode", "Length", "Description")
	for _, d := range c.deps.Packets.Definitions() {
		length := strconv.Itoa(d.Length)
		if d.IsVariable() {
			length = "variable"
		}
		tw.Append([]string{protocol.FormatOpCode(d.OpCode), length, d.Description})
	}
	tw.Render()
}

func (c *CLI) cmdBroadcast(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: broadcast <hex>")
	}
	frame, err := protocol.ParseHexFrame(strings.Join(args, ""))
	if err != nil {
		return err
	}
	if err := c.deps.Packets.CheckFrame(frame); err != nil {
		return err
	}

	queued := c.deps.Outbound.BroadcastRaw(ctx, frame)
	fmt.Fprintf(c.out, "Broadcast %s queued for %d sessions\n", protocol.FormatOpCode(frame[0]), queued)
	return nil
}

func (c *CLI) cmdAccount(ctx context.Context, args []string) error {
	if c.deps.Accounts == nil {
		return fmt.Errorf("account store unavailable")
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: account add <name> <password> | account ban|unban <name>")
	}

	name := args[1]
	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) < 3 {
			return fmt.Errorf("usage: account add <name> <password>")
		}
		if err := c.deps.Accounts.CreateAccount(ctx, name, args[2]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Account %s created\n", name)
	case "ban", "unban":
		banned := strings.EqualFold(args[0], "ban")
		if err := c.deps.Accounts.SetBanned(ctx, name, banned); err != nil {
			return err
		}
		kicked := 0
		if banned {
			kicked = c.kickAccount(ctx, name)
		}
		fmt.Fprintf(c.out, "Account %s banned=%v (%d sessions kicked)\n", name, banned, kicked)
	default:
		return fmt.Errorf("unknown account action %q", args[0])
	}
	return nil
}

func (c *CLI) kickAccount(ctx context.Context, name string) int {
	kicked := 0
	for _, conn := range c.deps.Connections.Snapshot() {
		if !strings.EqualFold(conn.Account(), name) {
			continue
		}
		if err := c.deps.Connections.Kick(ctx, conn.ID(), "account banned"); err == nil {
			kicked++
		}
	}
	return kicked
}

func (c *CLI) printAccounts(ctx context.Context) error {
	if c.deps.Accounts == nil {
		return fmt.Errorf("account store unavailable")
	}
	accounts, err := c.deps.Accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}

	tw := c.newTable("Name", "Banned", "Created", "Last Login")
	for _, a := range accounts {
		last := "-"
		if a.LastLogin != nil {
			last = a.LastLogin.Format(time.RFC3339)
		}
		tw.Append([]string{a.Name, strconv.FormatBool(a.Banned), a.CreatedAt.Format(time.RFC3339), last})
	}
	tw.Render()
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
