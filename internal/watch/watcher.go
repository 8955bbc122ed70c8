// Package watch reports uploads that disappear from the local upload
// directory without going through the API.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/docbroker/docbroker/internal/sse"
	"github.com/docbroker/docbroker/internal/storage"
)

// RemovedPayload is the data of an sse.UploadRemoved event.
type RemovedPayload struct {
	UploadID string `json:"uploadId"`
}

// Watch starts an fsnotify watcher on root and publishes sse.UploadRemoved
// for every stored file that is removed or renamed away, until ctx is
// cancelled. Staging files written by storage.FS are ignored.
func Watch(ctx context.Context, root string, pub sse.Publisher, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, storage.TempPrefix) || strings.HasPrefix(name, ".") {
				continue
			}
			logger.Debug("watcher: upload removed", slog.String("upload_id", name))
			pub.Publish(sse.Event{
				Type: sse.UploadRemoved,
				Data: RemovedPayload{UploadID: name},
			})

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
