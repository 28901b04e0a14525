// ABOUTME: Recording App implementation for tests of packages that serve apps
// ABOUTME: Captures lifecycle callbacks, events and actions for later assertions

package registrytest

import (
	"context"
	"net/http"
	"sync"

	"github.com/codebarista-de/shopware-app-server/internal/registry"
)

// Call is one recorded lifecycle callback.
type Call struct {
	Kind           string // register, reregister or delete
	ShopHost       string
	ShopID         string
	InternalShopID string
}

// App records everything it receives.
type App struct {
	AppKey     string
	AppName    string
	AppSecret  string
	AppVersion string

	// ActionResponse is returned from OnAction; nil means unhandled.
	ActionResponse *registry.ActionResponse
	// EventErr is returned from OnEvent.
	EventErr error
	// Admin, when set, is served under the admin API.
	Admin http.Handler

	mu      sync.Mutex
	calls   []Call
	events  []*registry.Event
	actions []*registry.Action
}

// NewApp returns an App with the given key and secret.
func NewApp(key, secret string) *App {
	return &App{AppKey: key, AppName: "TestApp", AppSecret: secret, AppVersion: "1.0.0"}
}

func (a *App) Key() string     { return a.AppKey }
func (a *App) Name() string    { return a.AppName }
func (a *App) Secret() string  { return a.AppSecret }
func (a *App) Version() string { return a.AppVersion }

func (a *App) record(kind, shopHost, shopID, internalShopID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Kind: kind, ShopHost: shopHost, ShopID: shopID, InternalShopID: internalShopID})
}

func (a *App) OnRegisterShop(_ context.Context, shopHost, shopID, internalShopID string) {
	a.record("register", shopHost, shopID, internalShopID)
}

func (a *App) OnReRegisterShop(_ context.Context, shopHost, shopID, internalShopID string) {
	a.record("reregister", shopHost, shopID, internalShopID)
}

func (a *App) OnDeleteShop(_ context.Context, shopHost, shopID, internalShopID string) {
	a.record("delete", shopHost, shopID, internalShopID)
}

func (a *App) OnEvent(_ context.Context, event *registry.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.EventErr
}

func (a *App) OnAction(_ context.Context, action *registry.Action) (*registry.ActionResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return a.ActionResponse, nil
}

// Calls returns the recorded lifecycle callbacks.
func (a *App) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// Events returns the received events.
func (a *App) Events() []*registry.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*registry.Event(nil), a.events...)
}

// Actions returns the received actions.
func (a *App) Actions() []*registry.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*registry.Action(nil), a.actions...)
}

// AdminApp is an App that also serves an admin API.
type AdminApp struct {
	*App
}

// AdminHandler returns the configured admin handler.
func (a AdminApp) AdminHandler() http.Handler {
	return a.Admin
}
