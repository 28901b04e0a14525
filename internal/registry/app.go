// ABOUTME: App capability interface implemented by each integrating application
// ABOUTME: Also defines the webhook event, action request and action response shapes

package registry

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/text/language"
)

// App is one integrating application served by this backend. Its key is the
// subdomain under which the platform reaches it.
type App interface {
	Key() string
	Name() string
	Secret() string
	Version() string

	OnRegisterShop(ctx context.Context, shopHost, shopID, internalShopID string)
	OnReRegisterShop(ctx context.Context, shopHost, shopID, internalShopID string)
	OnDeleteShop(ctx context.Context, shopHost, shopID, internalShopID string)

	OnEvent(ctx context.Context, event *Event) error
	// OnAction returns nil when the action is not handled.
	OnAction(ctx context.Context, action *Action) (*ActionResponse, error)
}

// AdminAPI is implemented by apps that serve an API for their admin extension.
// Requests reaching the handler carry a verified app token.
type AdminAPI interface {
	AdminHandler() http.Handler
}

// Source identifies the shop a webhook or action originates from.
type Source struct {
	URL        string `json:"url"`
	AppVersion string `json:"appVersion"`
	ShopID     string `json:"shopId"`
	EventID    string `json:"eventId,omitempty"`
}

// EventData carries the event name and its payload.
type EventData struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Event is a webhook delivered by the shop.
type Event struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Data      EventData       `json:"data"`
	Source    Source          `json:"source"`

	InternalShopID string        `json:"-"`
	Locale         *language.Tag `json:"-"`
	LanguageID     string        `json:"-"`
	Raw            []byte        `json:"-"`
}

// ActionData describes the button the admin user pressed.
type ActionData struct {
	IDs    []string `json:"ids"`
	Entity string   `json:"entity"`
	Action string   `json:"action"`
}

// Action is an action-button request from the administration.
type Action struct {
	Source Source          `json:"source"`
	Data   ActionData      `json:"data"`
	Meta   json.RawMessage `json:"meta"`

	InternalShopID string        `json:"-"`
	Locale         *language.Tag `json:"-"`
	LanguageID     string        `json:"-"`
}

// ActionResponse is what the administration does after an action.
type ActionResponse struct {
	ActionType string `json:"actionType"`
	Payload    any    `json:"payload"`
}

// ModalSize controls the width of an openModal response.
type ModalSize string

const (
	ModalSmall      ModalSize = "small"
	ModalMedium     ModalSize = "medium"
	ModalLarge      ModalSize = "large"
	ModalFullscreen ModalSize = "fullscreen"
)

type notificationPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type modalPayload struct {
	IframeURL string    `json:"iframeUrl"`
	Size      ModalSize `json:"size"`
	Expand    bool      `json:"expand"`
}

type newTabPayload struct {
	RedirectURL string `json:"redirectUrl"`
}

func notification(status, message string) *ActionResponse {
	return &ActionResponse{ActionType: "notification", Payload: notificationPayload{Status: status, Message: message}}
}

func SuccessNotification(message string) *ActionResponse { return notification("success", message) }
func ErrorNotification(message string) *ActionResponse   { return notification("error", message) }
func InfoNotification(message string) *ActionResponse    { return notification("info", message) }
func WarningNotification(message string) *ActionResponse { return notification("warning", message) }

// OpenModal shows iframeURL in a modal of the given size.
func OpenModal(iframeURL string, size ModalSize, expand bool) *ActionResponse {
	return &ActionResponse{ActionType: "openModal", Payload: modalPayload{IframeURL: iframeURL, Size: size, Expand: expand}}
}

// OpenNewTab opens redirectURL in a new browser tab.
func OpenNewTab(redirectURL string) *ActionResponse {
	return &ActionResponse{ActionType: "openNewTab", Payload: newTabPayload{RedirectURL: redirectURL}}
}

// Reload reloads the current administration page.
func Reload() *ActionResponse {
	return &ActionResponse{ActionType: "reload", Payload: map[string]any{}}
}
