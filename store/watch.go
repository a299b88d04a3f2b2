package store

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchOutbox calls fn whenever a message file appears in the outbox, until
// ctx is done.
func (m *Mailbox) WatchOutbox(ctx context.Context, fn func(id string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.OutboxDir()); err != nil {
		return err
	}
	log.Debugf("Watching outbox %s", m.OutboxDir())

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) &&
				!event.Has(fsnotify.Write) {

				continue
			}

			base := filepath.Base(event.Name)
			if strings.HasPrefix(base, ".") ||
				!strings.HasSuffix(base, msgExt) {

				continue
			}

			fn(strings.TrimSuffix(base, msgExt))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("Outbox watcher error: %v", err)
		}
	}
}
