// Package session stores refresh-token sessions in Redis.
//
// # Key layout
//
// Each live refresh token owns one hash at <prefix>:rt:<digest>, where digest
// is the hex SHA-256 of the token value. A per-subject sorted set at
// <prefix>:ru:<subject> indexes the digests ordered by issue sequence, and
// <prefix>:rs:<subject> holds the sequence counter.
//
// # Atomicity
//
// Insert with cap eviction, rotation, and deletes each run as a single Lua
// script, so concurrent callers observe either the state before or after a
// step, never a mix. Rotation of one token succeeds at most once.
//
// # Architecture boundaries
//
// This package does not parse tokens or apply authentication policy. It must
// not import goGate or jwt.
package session
