// Package query answers the commands remote stations send in FEC query
// frames and as unknown slash commands inside ARQ sessions.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arimnet/arimgo/store"
	"github.com/lightningnetwork/lnd/clock"
)

// Status classifies the outcome of a query.
type Status uint8

const (
	StatusOK Status = iota
	StatusFileNotFound
	StatusDirNotFound
	StatusAuthRequired
	StatusAuthError
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFileNotFound:
		return "FileNotFound"
	case StatusDirNotFound:
		return "DirNotFound"
	case StatusAuthRequired:
		return "AuthRequired"
	case StatusAuthError:
		return "AuthError"
	default:
		return "Unknown"
	}
}

// Result is the answer to one query. Text is only meaningful for StatusOK.
type Result struct {
	Status Status
	Text   string
}

// Reply renders the result the way it is sent back over an ARQ session.
func (r Result) Reply() string {
	switch r.Status {
	case StatusOK:
		return r.Text
	case StatusFileNotFound:
		return "/ERROR File not found"
	case StatusDirNotFound:
		return "/ERROR Directory not found"
	case StatusAuthRequired:
		return "/AUTH"
	case StatusAuthError:
		return "/EAUTH"
	default:
		return "/ERROR Unknown command"
	}
}

// Processor answers queries from remote stations.
type Processor interface {
	Process(from, text string, authed bool) Result
}

// Files is the part of the file store queries read from.
type Files interface {
	ReadShared(name string, authed bool) ([]byte, error)
	ListShared(dir string, authed bool) (string, error)
}

// Messages is the part of the mailbox queries read from.
type Messages interface {
	ListOutbound(to string) (string, error)
}

// Handler answers one query verb. args is the text after the verb.
type Handler func(from, args string, authed bool) Result

// Config holds what the built-in queries report.
type Config struct {
	Version string
	MyCall  string
	Grid    string

	Files    Files
	Messages Messages
	Clock    clock.Clock

	// MaxResponse caps the response text. Longer responses are cut.
	MaxResponse int
}

const defaultMaxResponse = 2048

// Commands is the default Processor: a table of verb handlers.
type Commands struct {
	cfg      Config
	handlers map[string]Handler
}

// New creates a processor with the built-in verbs VERSION, TIME, GRID,
// FLIST, FILE, MLIST and HELP.
func New(cfg Config) *Commands {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.MaxResponse == 0 {
		cfg.MaxResponse = defaultMaxResponse
	}

	c := &Commands{
		cfg:      cfg,
		handlers: make(map[string]Handler),
	}

	c.Register("VERSION", c.version)
	c.Register("TIME", c.time)
	c.Register("GRID", c.grid)
	c.Register("FLIST", c.flist)
	c.Register("FILE", c.file)
	c.Register("MLIST", c.mlist)
	c.Register("HELP", c.help)

	return c
}

// Register adds or replaces the handler for verb.
func (c *Commands) Register(verb string, h Handler) {
	c.handlers[strings.ToUpper(verb)] = h
}

// Process implements Processor. A leading slash on the verb is ignored.
func (c *Commands) Process(from, text string, authed bool) Result {
	text = strings.TrimSpace(text)
	verb, args, _ := strings.Cut(text, " ")
	verb = strings.ToUpper(strings.TrimPrefix(verb, "/"))

	h, ok := c.handlers[verb]
	if !ok {
		log.Debugf("Unknown query %q from %s", verb, from)
		return Result{Status: StatusUnknown}
	}

	res := h(from, strings.TrimSpace(args), authed)
	if res.Status == StatusOK && len(res.Text) > c.cfg.MaxResponse {
		res.Text = res.Text[:c.cfg.MaxResponse]
	}

	log.Debugf("Query %s from %s: %v", verb, from, res.Status)

	return res
}

func (c *Commands) version(_, _ string, _ bool) Result {
	return Result{Text: c.cfg.Version}
}

func (c *Commands) time(_, _ string, _ bool) Result {
	return Result{
		Text: c.cfg.Clock.Now().UTC().Format(time.RFC1123),
	}
}

func (c *Commands) grid(_, _ string, _ bool) Result {
	return Result{Text: fmt.Sprintf("%s %s", c.cfg.MyCall, c.cfg.Grid)}
}

func (c *Commands) flist(_, args string, authed bool) Result {
	if c.cfg.Files == nil {
		return Result{Status: StatusDirNotFound}
	}

	listing, err := c.cfg.Files.ListShared(args, authed)
	if err != nil {
		return FromError(err)
	}

	return Result{Text: listing}
}

func (c *Commands) file(_, args string, authed bool) Result {
	if c.cfg.Files == nil || args == "" {
		return Result{Status: StatusFileNotFound}
	}

	data, err := c.cfg.Files.ReadShared(args, authed)
	if err != nil {
		return FromError(err)
	}

	return Result{Text: string(data)}
}

func (c *Commands) mlist(from, _ string, _ bool) Result {
	if c.cfg.Messages == nil {
		return Result{Text: "0 message(s)\n"}
	}

	listing, err := c.cfg.Messages.ListOutbound(from)
	if err != nil {
		log.Errorf("Message listing for %s: %v", from, err)
		return Result{Status: StatusUnknown}
	}

	return Result{Text: listing}
}

func (c *Commands) help(_, _ string, _ bool) Result {
	verbs := make([]string, 0, len(c.handlers))
	for v := range c.handlers {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)

	return Result{Text: strings.Join(verbs, " ")}
}

// FromError maps store errors onto query statuses.
func FromError(err error) Result {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrBadName):
		return Result{Status: StatusFileNotFound}
	case errors.Is(err, store.ErrDirNotFound):
		return Result{Status: StatusDirNotFound}
	case errors.Is(err, store.ErrAuthRequired):
		return Result{Status: StatusAuthRequired}
	default:
		log.Errorf("Query failed: %v", err)
		return Result{Status: StatusUnknown}
	}
}
