package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cases := map[string]command{
		"":           cmdNone,
		"mute":       cmdMute,
		"  UNMUTE ":  cmdUnmute,
		"camera on":  cmdCameraOn,
		"camera off": cmdCameraOff,
		"join":       cmdJoin,
		"leave":      cmdLeave,
		"who":        cmdRoster,
		"exit":       cmdQuit,
		"host":       cmdHost,
		"audience":   cmdAudience,
	}
	for line, want := range cases {
		got, err := parseCommand(line)
		require.NoError(t, err, line)
		assert.Equal(t, want, got, line)
	}

	_, err := parseCommand("camera")
	assert.Error(t, err)
	_, err = parseCommand("dance")
	assert.Error(t, err)
}

func TestReadCommandsClosesAtEOF(t *testing.T) {
	out := make(chan string, 4)
	readCommands(strings.NewReader("mute\njoin\n"), out)

	var got []string
	for l := range out {
		got = append(got, l)
	}
	assert.Equal(t, []string{"mute", "join"}, got)
}
