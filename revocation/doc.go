// Package revocation keeps a Redis-backed deny list of token ids.
//
// Entries live at <prefix>:bl:<jti> with value "reason:unixMillis" and expire
// on their own once every token that could carry the id has expired. Presence
// of an entry blocks the id unconditionally.
package revocation
