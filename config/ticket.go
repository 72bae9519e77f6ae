package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kleeedolinux/notebookws/socket"
)

var ErrEmptyTicket = errors.New("ticket file has no ticket")

// LoadTicket reads a session ticket from a YAML (or JSON) file with the
// keys principal, ticket and roles.
func LoadTicket(path string) (*socket.Ticket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var t socket.Ticket
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse ticket %s: %w", path, err)
	}
	if t.Ticket == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyTicket)
	}
	return &t, nil
}

// WatchTicket calls onChange with the reloaded ticket each time the file is
// written or replaced, until ctx is cancelled. A file that fails to load is
// logged and the previous ticket stays in effect.
func WatchTicket(ctx context.Context, path string, onChange func(*socket.Ticket)) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: an atomic save renames a new inode over path,
	// which a watch on the file itself never reports.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	log.Printf("config: watching ticket file %s", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			t, err := LoadTicket(path)
			if err != nil {
				log.Printf("config: ticket reload failed, keeping previous ticket: %v", err)
				continue
			}

			log.Printf("config: ticket reloaded for principal %q", t.Principal)
			onChange(t)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: ticket watcher error: %v", err)
		}
	}
}
