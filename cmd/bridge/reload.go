package main

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/webagency/opencode-bridge/bridge"
)

// watchConfig reloads bridge.json whenever it changes and hands the
// validated result to apply. The parent directory is watched rather
// than the file itself so editors that save via rename keep working.
func watchConfig(cfgPath string, apply func(*bridge.Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(cfgPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	target := filepath.Clean(cfgPath)

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				log.Printf("[config] %s changed, reloading", cfgPath)
				apply(bridge.LoadConfig(cfgPath))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[config] watch error: %v", err)
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}
