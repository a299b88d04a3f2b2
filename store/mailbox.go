package store

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

const (
	inDir   = "in"
	outDir  = "out"
	sentDir = "sent"

	msgExt = ".msg"
)

// Message is one stored message.
type Message struct {
	// ID is the file name stem, unique within the mailbox.
	ID string

	From string
	To   string
	Time time.Time
	Body []byte

	// Corrupt marks inbound messages whose checksum did not match.
	Corrupt bool
}

// encode renders the on-disk form: header lines, a blank line, the body.
func (m *Message) encode() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\n", m.From)
	fmt.Fprintf(&b, "To: %s\n", m.To)
	fmt.Fprintf(&b, "Date: %s\n", m.Time.UTC().Format(time.RFC3339))
	if m.Corrupt {
		b.WriteString("Status: corrupt\n")
	}
	b.WriteByte('\n')
	b.Write(m.Body)

	return b.Bytes()
}

func decodeMessage(id string, raw []byte) (Message, error) {
	msg := Message{ID: id}

	header, body, ok := bytes.Cut(raw, []byte("\n\n"))
	if !ok {
		return msg, fmt.Errorf("message %s: no header separator", id)
	}
	msg.Body = body

	scanner := bufio.NewScanner(bytes.NewReader(header))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(key) {
		case "from":
			msg.From = value
		case "to":
			msg.To = value
		case "date":
			t, err := time.Parse(time.RFC3339, value)
			if err == nil {
				msg.Time = t
			}
		case "status":
			msg.Corrupt = value == "corrupt"
		}
	}

	return msg, scanner.Err()
}

// Mailbox is a directory backed message store. It is safe for concurrent
// use.
type Mailbox struct {
	root  string
	clock clock.Clock

	mu  sync.Mutex
	seq uint32
}

// OpenMailbox creates the mailbox folders below root if needed.
func OpenMailbox(root string, clk clock.Clock) (*Mailbox, error) {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	for _, dir := range []string{inDir, outDir, sentDir} {
		err := os.MkdirAll(filepath.Join(root, dir), 0o700)
		if err != nil {
			return nil, err
		}
	}

	return &Mailbox{root: root, clock: clk}, nil
}

// OutboxDir returns the folder holding messages waiting to be sent.
func (m *Mailbox) OutboxDir() string {
	return filepath.Join(m.root, outDir)
}

func (m *Mailbox) newID(now time.Time) string {
	m.seq++
	return fmt.Sprintf("%s-%04d", now.UTC().Format("20060102T150405"),
		m.seq%10000)
}

func (m *Mailbox) write(dir string, msg *Message) error {
	now := m.clock.Now()
	if msg.Time.IsZero() {
		msg.Time = now
	}
	if msg.ID == "" {
		msg.ID = m.newID(now)
	}

	path := filepath.Join(m.root, dir, msg.ID+msgExt)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, msg.encode(), 0o600); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// Append stores an inbound message.
func (m *Mailbox) Append(msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.write(inDir, &msg); err != nil {
		return "", err
	}
	log.Debugf("Stored message %s from %s", msg.ID, msg.From)

	return msg.ID, nil
}

// Queue stores an outbound message.
func (m *Mailbox) Queue(msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.write(outDir, &msg); err != nil {
		return "", err
	}
	log.Debugf("Queued message %s to %s", msg.ID, msg.To)

	return msg.ID, nil
}

func (m *Mailbox) list(dir string) ([]Message, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, dir))
	if err != nil {
		return nil, err
	}

	var msgs []Message
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, msgExt) {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(m.root, dir, name))
		if err != nil {
			return nil, err
		}

		msg, err := decodeMessage(strings.TrimSuffix(name, msgExt), raw)
		if err != nil {
			log.Warnf("Skipping unreadable message: %v", err)
			continue
		}
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Time.Equal(msgs[j].Time) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Time.Before(msgs[j].Time)
	})

	return msgs, nil
}

// Inbox returns the received messages, oldest first.
func (m *Mailbox) Inbox() ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.list(inDir)
}

// Pending returns the outbound messages for to, oldest first. An empty to
// returns every outbound message.
func (m *Mailbox) Pending(to string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.list(outDir)
	if err != nil {
		return nil, err
	}
	if to == "" {
		return all, nil
	}

	var msgs []Message
	for _, msg := range all {
		if strings.EqualFold(msg.To, to) {
			msgs = append(msgs, msg)
		}
	}

	return msgs, nil
}

// NextOutbound returns the oldest outbound message for to.
func (m *Mailbox) NextOutbound(to string) (Message, bool, error) {
	msgs, err := m.Pending(to)
	if err != nil || len(msgs) == 0 {
		return Message{}, false, err
	}

	return msgs[0], true, nil
}

// ListOutbound renders the outbound messages for to, one per line.
func (m *Mailbox) ListOutbound(to string) (string, error) {
	msgs, err := m.Pending(to)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&b, "%s %s>%s %s %d\n", msg.ID, msg.From, msg.To,
			msg.Time.UTC().Format(time.RFC3339), len(msg.Body))
	}
	fmt.Fprintf(&b, "%d message(s)\n", len(msgs))

	return b.String(), nil
}

// MarkSent moves an outbound message to the sent folder.
func (m *Mailbox) MarkSent(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return ErrBadName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from := filepath.Join(m.root, outDir, id+msgExt)
	to := filepath.Join(m.root, sentDir, id+msgExt)
	if err := os.Rename(from, to); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}

	log.Debugf("Message %s sent", id)

	return nil
}
