// ABOUTME: ConfiguredApp is the App used by the binary for apps declared in the config file
// ABOUTME: Lifecycle callbacks log, webhooks are forwarded to an events.Publisher

package registry

import (
	"context"
	"log/slog"

	"github.com/codebarista-de/shopware-app-server/internal/events"
)

// ConfiguredApp is an App defined purely by configuration.
type ConfiguredApp struct {
	key       string
	name      string
	secret    string
	version   string
	publisher events.Publisher
	logger    *slog.Logger
}

// NewConfiguredApp creates a ConfiguredApp that forwards events to publisher.
func NewConfiguredApp(key, name, secret, version string, publisher events.Publisher, logger *slog.Logger) *ConfiguredApp {
	return &ConfiguredApp{
		key:       key,
		name:      name,
		secret:    secret,
		version:   version,
		publisher: publisher,
		logger:    logger.With("component", "app", "app", key),
	}
}

func (a *ConfiguredApp) Key() string     { return a.key }
func (a *ConfiguredApp) Name() string    { return a.name }
func (a *ConfiguredApp) Secret() string  { return a.secret }
func (a *ConfiguredApp) Version() string { return a.version }

func (a *ConfiguredApp) OnRegisterShop(ctx context.Context, shopHost, shopID, internalShopID string) {
	a.logger.InfoContext(ctx, "shop installed app", "shop_host", shopHost, "shop_id", shopID, "internal_shop_id", internalShopID)
}

func (a *ConfiguredApp) OnReRegisterShop(ctx context.Context, shopHost, shopID, internalShopID string) {
	a.logger.InfoContext(ctx, "shop re-registered app", "shop_host", shopHost, "shop_id", shopID, "internal_shop_id", internalShopID)
}

func (a *ConfiguredApp) OnDeleteShop(ctx context.Context, shopHost, shopID, internalShopID string) {
	a.logger.InfoContext(ctx, "shop uninstalled app", "shop_host", shopHost, "shop_id", shopID, "internal_shop_id", internalShopID)
}

// OnEvent forwards the event to the publisher.
func (a *ConfiguredApp) OnEvent(ctx context.Context, event *Event) error {
	return a.publisher.Publish(ctx, events.Message{
		AppKey:         a.key,
		ShopID:         event.Source.ShopID,
		InternalShopID: event.InternalShopID,
		EventID:        event.Source.EventID,
		Event:          event.Data.Event,
		Payload:        event.Data.Payload,
	})
}

// OnAction acknowledges every action with a success notification.
func (a *ConfiguredApp) OnAction(ctx context.Context, action *Action) (*ActionResponse, error) {
	a.logger.InfoContext(ctx, "action received",
		"shop_id", action.Source.ShopID, "action", action.Data.Action, "entity", action.Data.Entity, "ids", len(action.Data.IDs))
	return SuccessNotification(a.name + ": " + action.Data.Action), nil
}
