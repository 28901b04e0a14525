// Package auth authenticates requests reaching the app server.
//
// # Signed Platform Requests
//
// SignatureAuthenticator runs before every handler. It resolves the app from
// the left-most label of the Host header and verifies HMAC-SHA256 signatures:
//
//   - GET with a shopware-app-signature header: the query string is verified
//     with the app secret and grants RoleApplication (registration).
//   - GET: the shop-id and shopware-shop-signature query parameters; the query
//     string without the signature parameter is the signed message.
//   - POST: the raw body is the signed message, the shopware-shop-signature
//     header the signature. The shop id is read from the root shopId field or
//     from source.shopId. The body stays readable for the handler.
//
// A signature made with the shop's active secret grants RoleShop; one made with
// the pending secret grants RolePendingShop, which only the confirmation
// endpoint accepts. Failures are logged and the request continues without an
// AuthContext; RequireRole turns that into a 401.
//
// # Admin Extension Tokens
//
// AppTokenMiddleware guards the admin-extension API with tokens issued by the
// apptoken package, presented as "Authorization: Bearer <token>".
//
// # Operator API
//
// OperatorMiddleware verifies HS256 JWTs signed with auth.jwt_secret:
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate("alice", 24*time.Hour)
package auth
