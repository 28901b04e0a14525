// ABOUTME: Lookup of configured apps by key and by request host
// ABOUTME: The left-most host label selects the app, e.g. my-app.backend.example -> my-app

package registry

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/codebarista-de/shopware-app-server/internal/apperr"
)

// Apps is an immutable set of apps keyed by app key.
type Apps struct {
	byKey map[string]App
}

// NewApps builds the lookup. Keys must be unique and non-empty.
func NewApps(apps ...App) (*Apps, error) {
	byKey := make(map[string]App, len(apps))
	for _, app := range apps {
		key := app.Key()
		if key == "" {
			return nil, fmt.Errorf("app with empty key")
		}
		if _, exists := byKey[key]; exists {
			return nil, fmt.Errorf("duplicate app key %q", key)
		}
		byKey[key] = app
	}
	return &Apps{byKey: byKey}, nil
}

// Get returns the app with the given key.
func (a *Apps) Get(key string) (App, bool) {
	app, ok := a.byKey[key]
	return app, ok
}

// ForHost returns the app addressed by host. The port is ignored.
func (a *Apps) ForHost(host string) (App, bool) {
	key := KeyFromHost(host)
	if key == "" {
		return nil, false
	}
	return a.Get(key)
}

// AppForHost is ForHost returning NoSuchApp when nothing matches.
func (a *Apps) AppForHost(host string) (App, error) {
	app, ok := a.ForHost(host)
	if !ok {
		return nil, apperr.NoSuchApp(KeyFromHost(host))
	}
	return app, nil
}

// All returns the apps sorted by key.
func (a *Apps) All() []App {
	apps := make([]App, 0, len(a.byKey))
	for _, app := range a.byKey {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Key() < apps[j].Key() })
	return apps
}

// KeyFromHost returns the left-most label of host, without port. Hosts
// without a dot have no subdomain and yield "".
func KeyFromHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label, _, found := strings.Cut(host, ".")
	if !found {
		return ""
	}
	return strings.TrimSpace(label)
}
