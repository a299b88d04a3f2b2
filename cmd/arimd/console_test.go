package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arimnet/arimgo/session"
	"github.com/arimnet/arimgo/store"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want session.Request
		err  bool
	}{{
		line: "qry w1aw  version  please",
		want: session.Request{
			Kind: session.ReqQuery,
			Call: "W1AW",
			Text: "version  please",
		},
	}, {
		line: "qry W1AW",
		err:  true,
	}, {
		line: "beacon",
		want: session.Request{Kind: session.ReqBeacon},
	}, {
		line: "beacon qrv 14.109",
		want: session.Request{Kind: session.ReqBeacon, Text: "qrv 14.109"},
	}, {
		line: "ping k1abc 3",
		want: session.Request{
			Kind:  session.ReqPing,
			Call:  "K1ABC",
			Count: 3,
		},
	}, {
		line: "ping k1abc 16",
		err:  true,
	}, {
		line: "conn w1aw",
		want: session.Request{Kind: session.ReqConnect, Call: "W1AW"},
	}, {
		line: "conn w1aw 500 8",
		want: session.Request{
			Kind:      session.ReqConnect,
			Call:      "W1AW",
			Bandwidth: "500",
			Repeats:   8,
		},
	}, {
		line: "conn w1aw 500 x",
		err:  true,
	}, {
		line: "fget notes.txt",
		want: session.Request{Kind: session.ReqGetFile, Name: "notes.txt"},
	}, {
		line: "flist",
		want: session.Request{Kind: session.ReqListFiles},
	}, {
		line: "flist docs",
		want: session.Request{Kind: session.ReqListFiles, Name: "docs"},
	}, {
		line: "text hello there",
		want: session.Request{Kind: session.ReqText, Text: "hello there"},
	}, {
		line: "DISC",
		want: session.Request{Kind: session.ReqDisconnect},
	}, {
		line: "cancel",
		want: session.Request{Kind: session.ReqCancel},
	}, {
		line: "auth now",
		err:  true,
	}, {
		line: "bogus",
		err:  true,
	}}

	for _, test := range tests {
		test := test
		t.Run(test.line, func(t *testing.T) {
			t.Parallel()

			req, err := parseRequest(test.line)
			if test.err {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.want, req)
		})
	}
}

func TestRestOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "b  c", restOf("x a b  c", 2))
	require.Equal(t, "", restOf("x", 1))
	require.Equal(t, "x a", restOf("  x a ", 0))
}

func TestConsole(t *testing.T) {
	t.Parallel()

	mbox, err := store.OpenMailbox(
		filepath.Join(t.TempDir(), "mail"), clock.NewDefaultClock(),
	)
	require.NoError(t, err)

	e := session.New(session.Config{Name: "hf"})
	t.Cleanup(e.Stop)

	var out bytes.Buffer
	c := &console{
		engines: map[string]*session.Engine{"hf": e},
		names:   []string{"hf"},
		current: "hf",
		myCall:  "K1ABC",
		mbox:    mbox,
		readFile: func(path string) ([]byte, error) {
			return []byte("content of " + path), nil
		},
		out: &out,
	}

	input := strings.Join([]string{
		"msg w1aw hello there",
		"tnc nope",
		"help",
		"fput /tmp/notes.txt",
		"quit",
		"beacon",
	}, "\n")

	quit := c.run(context.Background(), strings.NewReader(input))
	require.True(t, quit)

	pending, err := mbox.Pending("W1AW")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "K1ABC", pending[0].From)
	require.Equal(t, "hello there", string(pending[0].Body))

	text := out.String()
	require.Contains(t, text, "queued "+pending[0].ID)
	require.Contains(t, text, `unknown TNC "nope"`)
	require.Contains(t, text, "Commands:")

	// mput looks the message up in the outbox.
	require.NoError(t, c.exec(context.Background(), "mput "+pending[0].ID))
	require.Error(t, c.exec(context.Background(), "mput nope"))

	// Input ending without quit.
	require.False(t, c.run(context.Background(), strings.NewReader("")))
}
