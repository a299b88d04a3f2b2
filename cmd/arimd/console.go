package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arimnet/arimgo/session"
	"github.com/arimnet/arimgo/store"
)

const consoleHelp = `Commands:
  msg CALL TEXT          queue a message for CALL
  qry CALL QUERY         send a query to CALL
  beacon [TEXT]          send a beacon
  ping CALL [COUNT]      ping CALL
  conn CALL [BW] [REP]   open an ARQ session
  disc                   close the ARQ session
  abort                  abort the ARQ session
  fput PATH              upload a local file in the ARQ session
  fget NAME              download a file in the ARQ session
  flist [DIR]            list remote files
  mput ID                send an outbox message in the ARQ session
  mget                   fetch messages waiting for us
  mlist                  list messages waiting for us
  auth                   authenticate the ARQ session
  text TEXT              send a line of text in the ARQ session
  cancel                 stop everything in progress
  tnc [NAME]             show or select the TNC
  quit                   exit`

var (
	errUsage = errors.New("usage")
	errQuit  = errors.New("quit")
)

type console struct {
	engines map[string]*session.Engine
	names   []string
	current string

	myCall string
	mbox   *store.Mailbox

	readFile func(path string) ([]byte, error)
	out      io.Writer
}

// run reads commands until in ends or quit is entered. It reports whether
// quit was entered.
func (c *console) run(ctx context.Context, in io.Reader) bool {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		err := c.exec(ctx, line)
		switch {
		case errors.Is(err, errQuit):
			return true

		case errors.Is(err, errUsage):
			fmt.Fprintln(c.out, consoleHelp)

		case err != nil:
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Errorf("Console input failed: %v", err)
	}

	return false
}

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	verb := strings.ToLower(fields[0])

	switch verb {
	case "quit", "exit":
		return errQuit

	case "help", "?":
		return errUsage

	case "tnc":
		return c.selectTNC(fields[1:])

	case "msg":
		if len(fields) < 3 {
			return errUsage
		}
		id, err := c.mbox.Queue(store.Message{
			From: c.myCall,
			To:   strings.ToUpper(fields[1]),
			Body: []byte(restOf(line, 2)),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "queued %s\n", id)

		return nil

	case "mput":
		if len(fields) != 2 {
			return errUsage
		}
		msg, err := c.outbound(fields[1])
		if err != nil {
			return err
		}

		return c.submit(ctx, session.Request{
			Kind: session.ReqPutMessage,
			ID:   msg.ID,
			Data: msg.Body,
		})

	case "fput":
		if len(fields) != 2 {
			return errUsage
		}
		data, err := c.readFile(fields[1])
		if err != nil {
			return err
		}

		return c.submit(ctx, session.Request{
			Kind: session.ReqSendFile,
			Name: filepath.Base(fields[1]),
			Data: data,
		})
	}

	req, err := parseRequest(line)
	if err != nil {
		return err
	}

	return c.submit(ctx, req)
}

func (c *console) submit(ctx context.Context, req session.Request) error {
	e, ok := c.engines[c.current]
	if !ok {
		return fmt.Errorf("no TNC selected")
	}

	return e.Submit(ctx, req)
}

func (c *console) selectTNC(args []string) error {
	if len(args) == 0 {
		for _, name := range c.names {
			mark := " "
			if name == c.current {
				mark = "*"
			}

			info := c.engines[name].TncState().Snapshot()
			fmt.Fprintf(c.out, "%s %s %v buffer=%d in=%d out=%d\n",
				mark, name, info.TncState, info.Buffer,
				info.BytesIn, info.BytesOut)
		}

		return nil
	}

	if _, ok := c.engines[args[0]]; !ok {
		return fmt.Errorf("unknown TNC %q", args[0])
	}
	c.current = args[0]

	return nil
}

func (c *console) outbound(id string) (store.Message, error) {
	msgs, err := c.mbox.Pending("")
	if err != nil {
		return store.Message{}, err
	}

	for _, m := range msgs {
		if m.ID == id {
			return m, nil
		}
	}

	return store.Message{}, fmt.Errorf("no outbound message %s", id)
}

// parseRequest turns the console commands that need no local data into
// engine requests.
func parseRequest(line string) (session.Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return session.Request{}, errUsage
	}

	args := fields[1:]
	argc := func(min, max int) error {
		if len(args) < min || len(args) > max {
			return errUsage
		}
		return nil
	}

	var req session.Request
	switch strings.ToLower(fields[0]) {
	case "qry":
		if len(args) < 2 {
			return req, errUsage
		}
		req = session.Request{
			Kind: session.ReqQuery,
			Call: strings.ToUpper(args[0]),
			Text: restOf(line, 2),
		}

	case "beacon":
		req = session.Request{
			Kind: session.ReqBeacon,
			Text: restOf(line, 1),
		}

	case "ping":
		if err := argc(1, 2); err != nil {
			return req, err
		}
		req = session.Request{
			Kind: session.ReqPing,
			Call: strings.ToUpper(args[0]),
		}
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 || n > 15 {
				return req, fmt.Errorf("bad ping count %q",
					args[1])
			}
			req.Count = n
		}

	case "conn":
		if err := argc(1, 3); err != nil {
			return req, err
		}
		req = session.Request{
			Kind: session.ReqConnect,
			Call: strings.ToUpper(args[0]),
		}
		if len(args) >= 2 {
			req.Bandwidth = args[1]
		}
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n < 1 {
				return req, fmt.Errorf("bad repeat count %q",
					args[2])
			}
			req.Repeats = n
		}

	case "fget":
		if err := argc(1, 1); err != nil {
			return req, err
		}
		req = session.Request{Kind: session.ReqGetFile, Name: args[0]}

	case "flist":
		if err := argc(0, 1); err != nil {
			return req, err
		}
		req = session.Request{
			Kind: session.ReqListFiles,
			Name: restOf(line, 1),
		}

	case "text":
		if len(args) == 0 {
			return req, errUsage
		}
		req = session.Request{
			Kind: session.ReqText,
			Text: restOf(line, 1),
		}

	default:
		kind, ok := simpleRequests[strings.ToLower(fields[0])]
		if !ok || len(args) != 0 {
			return req, errUsage
		}
		req = session.Request{Kind: kind}
	}

	return req, nil
}

// simpleRequests are the commands without arguments.
var simpleRequests = map[string]session.RequestKind{
	"disc":   session.ReqDisconnect,
	"abort":  session.ReqAbort,
	"mget":   session.ReqGetMessages,
	"mlist":  session.ReqListMessages,
	"auth":   session.ReqAuth,
	"cancel": session.ReqCancel,
}

// restOf returns line after its first n words, with inner spacing kept.
func restOf(line string, n int) string {
	rest := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return ""
		}
		rest = strings.TrimSpace(rest[idx:])
	}

	return rest
}
