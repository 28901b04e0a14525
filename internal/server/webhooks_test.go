// ABOUTME: Tests for webhook, action and lifecycle handlers
// ABOUTME: Includes the install-then-signed-event scenario and stale-secret rejection

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebarista-de/shopware-app-server/internal/auth"
	"github.com/codebarista-de/shopware-app-server/internal/registry"
	"github.com/codebarista-de/shopware-app-server/internal/signature"
)

func eventBody(shopID, eventID string) string {
	return fmt.Sprintf(`{"data":{"event":"product.written","payload":[{"entity":"product"}]},"source":{"url":"https://shop.example","appVersion":"1.0.0","shopId":%q,"eventId":%q},"timestamp":1700000000}`, shopID, eventID)
}

func TestEvent_SignedWithActiveSecret(t *testing.T) {
	h := newHarness(t, nil)
	secret := h.install(t, "S1", testShopURL)

	req := signedPost(t, PathEvent, eventBody("S1", "e1"), secret)
	req.Header.Set(HeaderUserLanguage, "en-GB")
	req.Header.Set(HeaderContextLanguage, "2fbb5fe2e29a4d70aa5854ce7ce3e20b")
	rec := h.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	events := h.app.Events()
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, "product.written", event.Data.Event)
	assert.Equal(t, "S1", event.Source.ShopID)
	assert.Equal(t, "e1", event.Source.EventID)
	assert.JSONEq(t, `[{"entity":"product"}]`, string(event.Data.Payload))
	assert.Equal(t, eventBody("S1", "e1"), string(event.Raw))
	require.NotNil(t, event.Locale)
	assert.Equal(t, "en-GB", event.Locale.String())
	assert.Equal(t, "2fbb5fe2e29a4d70aa5854ce7ce3e20b", event.LanguageID)

	shop, err := h.reg.GetShop(context.Background(), "my-app", "S1")
	require.NoError(t, err)
	assert.Equal(t, shop.ID, event.InternalShopID)
}

func TestEvent_StaleSecretRejected(t *testing.T) {
	h := newHarness(t, nil)
	stale := h.install(t, "S1", testShopURL)

	// Rotate the secret with a second register/confirm cycle.
	fresh := h.install(t, "S1", testShopURL)
	require.NotEqual(t, stale, fresh)

	rec := h.do(signedPost(t, PathEvent, eventBody("S1", "e1"), stale))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(signedPost(t, PathEvent, eventBody("S1", "e1"), fresh))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEvent_PendingSecretRejected(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.register(t, "S1", testShopURL)

	rec := h.do(signedPost(t, PathEvent, eventBody("S1", "e1"), resp.Secret))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.app.Events())
}

func TestEvent_Unsigned(t *testing.T) {
	h := newHarness(t, nil)
	h.install(t, "S1", testShopURL)

	req := signedPost(t, PathEvent, eventBody("S1", "e1"), "x")
	req.Header.Del(auth.HeaderShopSignature)
	rec := h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
}

func TestEvent_DuplicateDelivery(t *testing.T) {
	h := newHarness(t, nil)
	secret := h.install(t, "S1", testShopURL)

	for range 3 {
		rec := h.do(signedPost(t, PathEvent, eventBody("S1", "e1"), secret))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	assert.Len(t, h.app.Events(), 1)

	rec := h.do(signedPost(t, PathEvent, eventBody("S1", "e2"), secret))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, h.app.Events(), 2)
}

func TestEvent_FailureAllowsRedelivery(t *testing.T) {
	h := newHarness(t, nil)
	secret := h.install(t, "S1", testShopURL)

	h.app.EventErr = errors.New("downstream unavailable")
	rec := h.do(signedPost(t, PathEvent, eventBody("S1", "e1"), secret))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	h.app.EventErr = nil
	rec = h.do(signedPost(t, PathEvent, eventBody("S1", "e1"), secret))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, h.app.Events(), 2)
}

func TestParseLocale(t *testing.T) {
	assert.Nil(t, parseLocale(""))
	assert.Nil(t, parseLocale("!!"))
	require.NotNil(t, parseLocale("de"))
	assert.Equal(t, "de-DE", parseLocale("de-DE").String())
}

func actionBody(shopID string) string {
	return fmt.Sprintf(`{"source":{"url":"https://shop.example","appVersion":"1.0.0","shopId":%q},"data":{"ids":["p1","p2"],"entity":"product","action":"restock"},"meta":{"timestamp":1700000000}}`, shopID)
}

func TestAction_SignedResponse(t *testing.T) {
	h := newHarness(t, nil)
	secret := h.install(t, "S1", testShopURL)
	h.app.ActionResponse = registry.SuccessNotification("done")

	rec := h.do(signedPost(t, PathAction, actionBody("S1"), secret))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.JSONEq(t, `{"actionType":"notification","payload":{"status":"success","message":"done"}}`, rec.Body.String())
	sig := rec.Header().Get(auth.HeaderAppSignature)
	assert.True(t, signature.Verify(rec.Body.Bytes(), secret, sig))

	actions := h.app.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, []string{"p1", "p2"}, actions[0].Data.IDs)
	assert.Equal(t, "restock", actions[0].Data.Action)
}

func TestAction_Unhandled(t *testing.T) {
	h := newHarness(t, nil)
	secret := h.install(t, "S1", testShopURL)

	rec := h.do(signedPost(t, PathAction, actionBody("S1"), secret))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func lifecycleBody(shopID, appVersion string) string {
	return fmt.Sprintf(`{"data":{"event":"app.lifecycle","payload":[]},"source":{"url":"https://shop.example","appVersion":%q,"shopId":%q}}`, appVersion, shopID)
}

func TestLifecycle_Deleted(t *testing.T) {
	h := newHarness(t, nil)
	secret := h.install(t, "S1", testShopURL)

	rec := h.do(signedPost(t, PathLifecycle+"/deleted", lifecycleBody("S1", "1.0.0"), secret))
	require.Equal(t, http.StatusNoContent, rec.Code)

	shop, err := h.reg.GetShop(context.Background(), "my-app", "S1")
	require.NoError(t, err)
	assert.NotNil(t, shop.DeletedAt)

	calls := h.app.Calls()
	assert.Equal(t, "delete", calls[len(calls)-1].Kind)

	rec = h.do(signedPost(t, PathEvent, eventBody("S1", "e1"), secret))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "deleted shops no longer authenticate")
}

func TestLifecycle_Updated(t *testing.T) {
	h := newHarness(t, nil)
	secret := h.install(t, "S1", testShopURL)

	rec := h.do(signedPost(t, PathLifecycle+"/updated", lifecycleBody("S1", "2.0.0"), secret))
	require.Equal(t, http.StatusNoContent, rec.Code)

	shop, err := h.reg.GetShop(context.Background(), "my-app", "S1")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", shop.AppVersion)
}

func TestLifecycle_ActivatedAndUnknown(t *testing.T) {
	h := newHarness(t, nil)
	secret := h.install(t, "S1", testShopURL)

	rec := h.do(signedPost(t, PathLifecycle+"/activated", lifecycleBody("S1", "1.0.0"), secret))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(signedPost(t, PathLifecycle+"/exploded", lifecycleBody("S1", "1.0.0"), secret))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycle_DeletedWithInvalidShopURL(t *testing.T) {
	h := newHarness(t, nil)
	secret := h.install(t, "S1", testShopURL)

	body := `{"data":{"event":"app.deleted","payload":[]},"source":{"url":"::not a url","appVersion":"1.0.0","shopId":"S1"}}`
	rec := h.do(signedPost(t, PathLifecycle+"/deleted", body, secret))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	shop, err := h.reg.GetShop(context.Background(), "my-app", "S1")
	require.NoError(t, err)
	assert.Nil(t, shop.DeletedAt)
}
