// Package middleware enforces access tokens at request time.
//
// # Gates
//
//   - [Guard] for net/http handlers.
//   - [HandshakeGuard] and [Socket] for websocket upgrades.
//   - [GinGate] for gin routers.
//   - [RequireAuthority] for routes that need a specific authority.
//
// Every gate runs the same decision: allow-listed routes pass untouched,
// requests without a token pass only on optional routes, and everything else
// must carry an access token that Engine.ValidateAccess accepts. The
// resulting principal is attached with goGate.WithPrincipal.
//
// Rejections are 401 for token problems and 503 when the session store is
// unavailable. The reason code is logged and only written to the response
// when GateConfig.ExposeReason is set.
package middleware
