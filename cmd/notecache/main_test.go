package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitPrintsExampleConfig(t *testing.T) {
	out, err := execute(t, "init")
	require.NoError(t, err)
	require.Contains(t, out, "identity:")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, appName+" "+version))
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := execute(t, "run")
	require.ErrorContains(t, err, "no configuration file specified")
}

func TestParseNoteID(t *testing.T) {
	hex := strings.Repeat("ab", 32)

	id, err := parseNoteID(hex)
	require.NoError(t, err)
	require.Equal(t, hex, id)

	note, err := nip19.EncodeNote(hex)
	require.NoError(t, err)
	id, err = parseNoteID(note)
	require.NoError(t, err)
	require.Equal(t, hex, id)

	npub, err := nip19.EncodePublicKey(hex)
	require.NoError(t, err)
	_, err = parseNoteID(npub)
	require.ErrorContains(t, err, "does not point at a note")

	_, err = parseNoteID("garbage")
	require.Error(t, err)
}
