package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/jason-s-yu/sipsync/internal/game"
	"github.com/jason-s-yu/sipsync/internal/models"
	"github.com/jason-s-yu/sipsync/internal/session"
)

// player is what both a host and a client can do from the console.
type player interface {
	Rules() models.GameRules
	Players() []models.PlayerInfo
	LocalPlayer() models.PlayerInfo
	TriggerRule(rule models.Rule, target *models.PlayerInfo) error
	FinishDrink() error
	EditPlayer(name string, modifier float64) error
}

type command struct {
	usage string
	run   func(args []string) error
}

var errQuit = errors.New("quit")

type console struct {
	out      io.Writer
	p        player
	commands map[string]command
}

// lockedWriter lets notifications and command output share one writer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func newConsole(out io.Writer, p player) *console {
	c := &console{out: &lockedWriter{w: out}, p: p}
	c.commands = map[string]command{
		"rules":   {"rules", c.rules},
		"players": {"players", c.players},
		"trigger": {"trigger <n> [player]", c.trigger},
		"finish":  {"finish", func([]string) error { return p.FinishDrink() }},
		"edit":    {"edit <name> <modifier>", c.edit},
		"quit":    {"quit", func([]string) error { return errQuit }},
	}
	return c
}

// handle registers an extra command.
func (c *console) handle(name, usage string, run func(args []string) error) {
	c.commands[name] = command{usage: usage, run: run}
}

// run reads commands from in until it ends or quit is entered.
func (c *console) run(in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, ok := c.commands[strings.ToLower(fields[0])]
		if !ok {
			c.usage()
			continue
		}
		err := cmd.run(fields[1:])
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *console) usage() {
	names := make([]string, 0, len(c.commands))
	for _, cmd := range c.commands {
		names = append(names, cmd.usage)
	}
	slices.Sort(names)
	fmt.Fprintf(c.out, "commands: %s\n", strings.Join(names, ", "))
}

func (c *console) rules([]string) error {
	rules := c.p.Rules()
	if len(rules.Rules) == 0 {
		fmt.Fprintln(c.out, "no rules loaded")
	}
	for i, r := range rules.Rules {
		fmt.Fprintf(c.out, "%2d. [%s] %s: %s\n", i+1, r.PunishmentType, r.RuleDescription,
			game.FormatDrinkDescription(r.PunishmentQuantity))
	}
	if rules.Pace > 0 {
		fmt.Fprintf(c.out, "pace: %s every %d minutes\n", game.FormatDrinkDescription(rules.PaceQuantity), rules.Pace)
	}
	return nil
}

func (c *console) players([]string) error {
	me := c.p.LocalPlayer().Name
	for _, pl := range c.p.Players() {
		marker := " "
		if pl.Name == me {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %-16s x%-5g %s\n", marker, pl.Name, pl.DrinkModifier, game.FormatDrinkDescription(pl.DrinkCount))
	}
	return nil
}

func (c *console) trigger(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: trigger <n> [player]")
	}
	n, err := strconv.Atoi(args[0])
	rules := c.p.Rules().Rules
	if err != nil || n < 1 || n > len(rules) {
		return fmt.Errorf("no rule %q, pick 1-%d", args[0], len(rules))
	}

	var target *models.PlayerInfo
	if len(args) > 1 {
		name := strings.Join(args[1:], " ")
		for _, pl := range c.p.Players() {
			if pl.Name == name {
				target = &pl
				break
			}
		}
		if target == nil {
			return fmt.Errorf("no player named %q", name)
		}
	}
	return c.p.TriggerRule(rules[n-1], target)
}

func (c *console) edit(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: edit <name> <modifier>")
	}
	modifier, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("bad modifier %q", args[1])
	}
	return c.p.EditPlayer(args[0], modifier)
}

// listener prints a session's notifications to out.
func (c *console) listener(onDisconnect func()) session.Listener {
	return session.Listener{
		PunishmentTriggered: func(ev session.PunishmentEvent) {
			fmt.Fprintf(c.out, ">> %s: %s\n", ev.Rule.RuleDescription, ev.Description)
		},
		Disconnected: func(err error) {
			if err != nil {
				fmt.Fprintf(c.out, "disconnected from host: %v\n", err)
			} else {
				fmt.Fprintln(c.out, "disconnected from host")
			}
			if onDisconnect != nil {
				onDisconnect()
			}
		},
	}
}
