// ABOUTME: Categorised application errors shared by the registry, auth and admin API packages
// ABOUTME: Maps each error category to the HTTP status controllers respond with

package apperr

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by every error built in this package.
const (
	CodeInvalidShopURL   = "INVALID_SHOP_URL"
	CodeNoSuchShop       = "NO_SUCH_SHOP"
	CodeNoSuchApp        = "NO_SUCH_APP"
	CodeAccessDenied     = "ACCESS_DENIED"
	CodeShopwareAccess   = "SHOPWARE_ACCESS"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeInvalidToken     = "INVALID_TOKEN"
)

func newError(message string, category goerrors.Category, status int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(status).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(source error, message string, category goerrors.Category, status int, textCode string, metadata map[string]any) error {
	if source == nil {
		return newError(message, category, status, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(status).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// InvalidShopURL reports a shop URL whose host cannot be determined.
func InvalidShopURL(shopURL string, cause error) error {
	return wrapError(cause, "cannot infer host from shop url '"+shopURL+"'",
		goerrors.CategoryBadInput, http.StatusBadRequest, CodeInvalidShopURL,
		map[string]any{"shop_url": shopURL})
}

// NoSuchShop reports an unknown (or deleted) shop for an app.
func NoSuchShop(appKey, shopID string) error {
	return newError("no shop '"+shopID+"' for app '"+appKey+"'",
		goerrors.CategoryNotFound, http.StatusUnauthorized, CodeNoSuchShop,
		map[string]any{"app": appKey, "shop_id": shopID})
}

// NoSuchShopByID reports an unknown internal shop id.
func NoSuchShopByID(id string) error {
	return newError("no shop with internal id '"+id+"'",
		goerrors.CategoryNotFound, http.StatusUnauthorized, CodeNoSuchShop,
		map[string]any{"internal_shop_id": id})
}

// NoSuchApp reports a request for an app key nobody registered.
func NoSuchApp(appKey string) error {
	return newError("no app with key '"+appKey+"'",
		goerrors.CategoryAuth, http.StatusUnauthorized, CodeNoSuchApp,
		map[string]any{"app": appKey})
}

// AccessDenied reports a failed authentication or authorization check.
func AccessDenied(message string, cause error) error {
	return wrapError(cause, message, goerrors.CategoryAuth, http.StatusUnauthorized, CodeAccessDenied, nil)
}

// ShopwareAccess reports that the shop's own API could not be reached or refused us.
func ShopwareAccess(shopID string, cause error) error {
	return wrapError(cause, "access to shopware api of shop '"+shopID+"' failed",
		goerrors.CategoryExternal, http.StatusForbidden, CodeShopwareAccess,
		map[string]any{"shop_id": shopID})
}

// InvalidSignature reports a failure while computing a signature.
func InvalidSignature(message string, cause error) error {
	return wrapError(cause, message, goerrors.CategoryInternal, http.StatusInternalServerError, CodeInvalidSignature, nil)
}

// InvalidToken reports a token that cannot be issued.
func InvalidToken(message string) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, CodeInvalidToken, nil)
}

// Is reports whether err (or anything it wraps) carries the given text code.
func Is(err error, textCode string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCode
}

// HTTPStatus returns the status an error maps to. Unknown errors are 500.
func HTTPStatus(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

// WriteJSON writes an {"error": message} body with the given status.
func WriteJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
