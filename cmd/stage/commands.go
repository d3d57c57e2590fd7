package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dkeye/Stage/internal/app/call"
	"github.com/rs/zerolog/log"
)

type command int

const (
	cmdNone command = iota
	cmdMute
	cmdUnmute
	cmdCameraOn
	cmdCameraOff
	cmdJoin
	cmdLeave
	cmdRoster
	cmdQuit
	cmdHost
	cmdAudience
)

func parseCommand(line string) (command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return cmdNone, nil
	}
	switch fields[0] {
	case "mute":
		return cmdMute, nil
	case "unmute":
		return cmdUnmute, nil
	case "camera":
		if len(fields) == 2 && fields[1] == "on" {
			return cmdCameraOn, nil
		}
		if len(fields) == 2 && fields[1] == "off" {
			return cmdCameraOff, nil
		}
		return cmdNone, fmt.Errorf("usage: camera on|off")
	case "join":
		return cmdJoin, nil
	case "leave":
		return cmdLeave, nil
	case "roster", "who":
		return cmdRoster, nil
	case "quit", "exit":
		return cmdQuit, nil
	case "host":
		return cmdHost, nil
	case "audience":
		return cmdAudience, nil
	}
	return cmdNone, fmt.Errorf("unknown command %q", fields[0])
}

// readCommands closes out at EOF.
func readCommands(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// execute reports whether the client should stop.
func execute(ctx context.Context, lc *call.Lifecycle, line string) bool {
	logger := log.With().Str("module", "stage").Logger()
	cmd, err := parseCommand(line)
	if err != nil {
		logger.Warn().Err(err).Msg("command")
		return false
	}
	switch cmd {
	case cmdMute, cmdUnmute:
		if !lc.SetAudioEnabled(cmd == cmdUnmute) {
			logger.Info().Msg("no local media")
		}
	case cmdCameraOn, cmdCameraOff:
		if !lc.SetVideoEnabled(cmd == cmdCameraOn) {
			logger.Info().Msg("no local video")
		}
	case cmdJoin:
		if err := lc.RequestJoinCall(ctx); err != nil {
			logger.Warn().Err(err).Msg("join call")
		}
	case cmdLeave:
		if err := lc.Leave(); err != nil {
			logger.Warn().Err(err).Msg("leave")
		}
		return true
	case cmdRoster:
		for _, p := range lc.Roster().Snapshot() {
			logger.Info().
				Str("id", string(p.ID)).
				Str("name", p.DisplayName).
				Str("role", p.Role.String()).
				Bool("call", p.IsCallMember).
				Bool("connected", p.Connected).
				Bool("mic", p.MicEnabled).
				Msg("participant")
		}
		logger.Info().Str("state", lc.State().String()).Str("host", string(lc.HostID())).Msg("call")
	case cmdHost:
		if err := lc.SelectHost(ctx); err != nil {
			logger.Warn().Err(err).Msg("select host")
		}
	case cmdAudience:
		if err := lc.SelectAudience(); err != nil {
			logger.Warn().Err(err).Msg("select audience")
		}
	case cmdQuit:
		return true
	}
	return false
}
