package ardop

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDataAddr(t *testing.T) {
	t.Parallel()

	addr, err := DataAddr("localhost:8515")
	require.NoError(t, err)
	require.Equal(t, "localhost:8516", addr)

	addr, err = DataAddr("[::1]:9000")
	require.NoError(t, err)
	require.Equal(t, "[::1]:9001", addr)

	_, err = DataAddr("localhost")
	require.Error(t, err)
}

func TestInitCommands(t *testing.T) {
	t.Parallel()

	cmds := InitCommands(TncInfo{
		MyCall:       "W1AW",
		GridSquare:   "FN31",
		FECMode:      "4PSK.500.100",
		FECRepeats:   1,
		ARQBandwidth: "500MAX",
		Listen:       true,
		BusyDet:      5,
		Leader:       120,
		Trailer:      20,
		Squelch:      5,
	})

	require.Equal(t, CmdInitialize, cmds[0])
	require.Equal(t, "MYCALL W1AW", cmds[1])
	require.Equal(t, "GRIDSQUARE FN31", cmds[2])
	require.Contains(t, cmds, "LISTEN TRUE")
	require.Contains(t, cmds, "ARQBW 500MAX")
	require.Equal(t, CmdVersion, cmds[len(cmds)-1])
}

type frameCollector struct {
	frames chan *TncFrame
}

func (f *frameCollector) HandleFrame(frame *TncFrame) {
	f.frames <- frame
}

// TestConnRun drives both sockets of a Conn over in-memory pipes.
func TestConnRun(t *testing.T) {
	t.Parallel()

	cmdLocal, cmdRemote := net.Pipe()
	dataLocal, dataRemote := net.Pipe()

	conn := NewConn(ConnConfig{Addr: "pipe"}, cmdLocal, dataLocal)

	state := NewTncState(TncInfo{})
	events := make(chan Event, 10)
	cmdDec := NewCmdDecoder(state, conn, EventHandlerFunc(func(ev Event) {
		events <- ev
	}), false)

	collector := &frameCollector{frames: make(chan *TncFrame, 10)}
	dataDec := NewDataDecoder(collector)

	runErr := make(chan error, 1)
	go func() {
		runErr <- conn.Run(context.Background(), cmdDec, dataDec)
	}()

	// Commands reach the remote end CR terminated.
	remoteCmds := bufio.NewReader(cmdRemote)
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- conn.SendCommand("PING K1ABC 3")
	}()
	line, err := remoteCmds.ReadString('\r')
	require.NoError(t, err)
	require.Equal(t, "PING K1ABC 3\r", line)
	require.NoError(t, <-sendErr)

	_, err = cmdRemote.Write([]byte("BUFFER 42\r"))
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, EventBuffer, ev.Kind)
		require.Equal(t, 42, ev.Count)
	case <-time.After(time.Second):
		t.Fatal("no command event")
	}

	wire, err := (&TncFrame{Tag: TagARQ, Payload: []byte("/OK")}).Serialize()
	require.NoError(t, err)
	_, err = dataRemote.Write(wire)
	require.NoError(t, err)

	select {
	case f := <-collector.frames:
		require.Equal(t, "/OK", string(f.Payload))
	case <-time.After(time.Second):
		t.Fatal("no data frame")
	}

	// The TNC going away ends Run with ErrTNCClosed.
	require.NoError(t, cmdRemote.Close())

	select {
	case err := <-runErr:
		require.ErrorIs(t, err, ErrTNCClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	require.ErrorIs(t, conn.SendCommand("ABORT"), ErrNotAttached)
	require.NoError(t, conn.Close())
}

func TestConnRunCancel(t *testing.T) {
	t.Parallel()

	cmdLocal, _ := net.Pipe()
	dataLocal, _ := net.Pipe()
	conn := NewConn(ConnConfig{Addr: "pipe"}, cmdLocal, dataLocal)

	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() {
		runErr <- conn.Run(
			ctx, NewCmdDecoder(NewTncState(TncInfo{}), nil, nil,
				false),
			NewDataDecoder(nil),
		)
	}()

	cancel()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	require.Eventually(t, func() bool {
		return errors.Is(conn.SendCommand("STATE"), ErrNotAttached)
	}, 2*time.Second, 10*time.Millisecond)

	_, err := conn.Write([]byte{1})
	require.ErrorIs(t, err, ErrNotAttached)
}

func TestBackoffWaiter(t *testing.T) {
	t.Parallel()

	b := NewBackoffWaiter(0, time.Millisecond, 4*time.Millisecond)
	ctx := context.Background()

	want := []time.Duration{
		time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond,
		4 * time.Millisecond,
	}
	for _, w := range want {
		require.NoError(t, b.Wait(ctx))
		require.Equal(t, w, b.Current())
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	slow := NewBackoffWaiter(time.Hour, time.Millisecond, time.Hour)
	require.ErrorIs(t, slow.Wait(cancelled), context.Canceled)
}
