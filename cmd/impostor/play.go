package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/DoyleJ11/impostor/internal/config"
	"github.com/DoyleJ11/impostor/internal/engine"
	"github.com/DoyleJ11/impostor/internal/lobby"
	"github.com/DoyleJ11/impostor/internal/topic"
	"github.com/DoyleJ11/impostor/internal/transport"
	"github.com/DoyleJ11/impostor/internal/view"
	"github.com/skip2/go-qrcode"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func connect(cfg *config.Config, log *zap.Logger) (*transport.Bus, error) {
	tr, err := cfg.NewTransport(nil, log)
	if err != nil {
		return nil, err
	}
	return transport.NewBus(transport.BusConfig{
		Transport:     tr,
		ChannelPrefix: cfg.ChannelPrefix,
		Log:           log.Named("bus"),
	}), nil
}

func runHost(ctx context.Context, cfg *config.Config, name, room string, in io.Reader, out io.Writer) (err error) {
	log, err := config.NewLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	bus, err := connect(cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, bus.Close()) }()

	topics, closer, err := cfg.NewTopics(ctx, nil, log.Named("topics"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closer.Close()) }()

	host, err := lobby.NewHost(ctx, lobby.HostConfig{
		Bus:          bus,
		Topics:       topics,
		Name:         name,
		RoomCode:     room,
		Heartbeat:    cfg.Heartbeat,
		TopicTimeout: 2 * cfg.TopicTimeout,
		Log:          log.Named("host"),
	})
	if err != nil {
		return err
	}
	defer host.Close()

	printRoomCode(out, host.RoomCode())
	fmt.Fprintln(out, "commands: + - start reset show hide quit")

	errs := make(chan error, 1)
	return loop(ctx, host, in, out, errs, func(cmd string) bool {
		switch cmd {
		case "+":
			host.Inbox() <- lobby.AdjustImpostors{Delta: 1}
		case "-":
			host.Inbox() <- lobby.AdjustImpostors{Delta: -1}
		case "start":
			go func() {
				if err := host.Start(ctx); err != nil {
					select {
					case errs <- err:
					default:
					}
				}
			}()
		case "reset":
			host.Inbox() <- lobby.ResetRound{}
		default:
			return false
		}
		return true
	})
}

func runGuest(ctx context.Context, cfg *config.Config, name, room string, in io.Reader, out io.Writer) (err error) {
	log, err := config.NewLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	bus, err := connect(cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, bus.Close()) }()

	guest, err := lobby.NewGuest(ctx, lobby.GuestConfig{
		Bus:           bus,
		Name:          name,
		RoomCode:      room,
		RetryInterval: cfg.JoinRetry,
		Log:           log.Named("guest"),
	})
	if err != nil {
		return err
	}
	defer guest.Close()

	fmt.Fprintln(out, "commands: show hide quit")
	return loop(ctx, guest, in, out, nil, func(string) bool { return false })
}

type participant interface {
	Watch() <-chan lobby.View
	Reveal(shown bool)
}

// loop renders every view and feeds stdin lines to extra, falling back to
// the commands every participant has.
func loop(ctx context.Context, p participant, in io.Reader, out io.Writer, errs <-chan error, extra func(string) bool) error {
	lines := readLines(in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-p.Watch():
			if !ok {
				return nil
			}
			render(out, v)
		case err := <-errs:
			fmt.Fprintf(out, "could not start round: %v\n", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd := strings.ToLower(strings.TrimSpace(line))
			switch {
			case cmd == "":
			case cmd == "quit" || cmd == "q":
				return nil
			case cmd == "show":
				p.Reveal(true)
			case cmd == "hide":
				p.Reveal(false)
			case extra(cmd):
			default:
				fmt.Fprintf(out, "unknown command %q\n", cmd)
			}
		}
	}
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

func printRoomCode(out io.Writer, code string) {
	fmt.Fprintf(out, "Room code: %s\n", code)
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return
	}
	fmt.Fprint(out, qr.ToSmallString(false))
}

func render(out io.Writer, v lobby.View) {
	sc := v.Screen
	switch sc.Kind {
	case view.ScreenJoining:
		fmt.Fprintf(out, "Joining room %s...\n", v.RoomCode)

	case view.ScreenLobby:
		fmt.Fprintf(out, "Room %s | %d players: %s | impostors: %d\n",
			sc.RoomCode, len(sc.Players), strings.Join(sc.Players, ", "), sc.ImpostorCount)
		switch {
		case v.StartPending:
			fmt.Fprintln(out, "Picking a topic...")
		case sc.IsHost && !sc.CanStart:
			fmt.Fprintf(out, "Waiting for at least %d players.\n", engine.MinPlayers)
		case sc.IsHost:
			fmt.Fprintln(out, "Type start when everyone is in.")
		default:
			fmt.Fprintln(out, "Waiting for the host to start.")
		}

	case view.ScreenPlaying:
		fmt.Fprintf(out, "Round on! Category: %s\n", sc.Category)
		switch {
		case sc.Spectator:
			fmt.Fprintln(out, "You joined mid-round; sit this one out.")
		case sc.Card != nil:
			fmt.Fprintln(out, cardLine(*sc.Card))
		default:
			fmt.Fprintln(out, "Type show to see your card, hide to cover it.")
		}
	}
}

func cardLine(c view.Card) string {
	if c.Role == engine.RoleImpostor {
		return fmt.Sprintf("You are the IMPOSTOR. Word: %s", c.Word)
	}
	return fmt.Sprintf("You are INNOCENT. Word: %s", c.Word)
}

func runLocal(ctx context.Context, cfg *config.Config, players []string, impostors int, in io.Reader, out io.Writer) (err error) {
	log, err := config.NewLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	topics, closer, err := cfg.NewTopics(ctx, nil, log.Named("topics"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closer.Close()) }()
	return passAndPlay(ctx, topics, players, impostors, nil, in, out)
}

// passAndPlay deals a round on this device and walks it through every player.
func passAndPlay(ctx context.Context, topics topic.Provider, players []string, impostors int, r *rand.Rand, in io.Reader, out io.Writer) error {
	lines := readLines(in)
	next := func() (string, bool) {
		select {
		case <-ctx.Done():
			return "", false
		case line, ok := <-lines:
			return strings.ToLower(strings.TrimSpace(line)), ok
		}
	}

	for {
		t, err := topics.RequestTopic(ctx)
		if err != nil {
			return err
		}
		game, err := view.NewPassAndPlay(players, impostors, t.Round(), r)
		if err != nil {
			return err
		}

		for game.Phase() != view.PhasePlaying {
			fmt.Fprintf(out, "Pass the device to %s, then press enter.\n", game.Current().Name)
			if cmd, ok := next(); !ok || cmd == "quit" || cmd == "q" {
				return nil
			}
			card, err := game.Reveal()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, cardLine(card))
			fmt.Fprintln(out, "Press enter when you have seen it.")
			if _, ok := next(); !ok {
				return nil
			}
			fmt.Fprint(out, strings.Repeat("\n", 30))
			if err := game.Done(); err != nil {
				return err
			}
		}

		fmt.Fprintf(out, "Everyone has seen their card. Category: %s\n", game.Category())
		fmt.Fprintln(out, "Type again for a new round or quit.")
		for {
			cmd, ok := next()
			if !ok || cmd == "quit" || cmd == "q" {
				return nil
			}
			if cmd == "again" {
				break
			}
		}
	}
}
