// Package flows contains the orchestration behind every Engine operation.
//
// Each Run function accepts a typed dependency struct and returns a result
// carrying either the outcome or a classified failure. The root package maps
// failure kinds to its exported errors, metrics and audit events.
//
// # Architecture boundaries
//
// Flows coordinate the token codec, session store and revocation list. They do
// not own any of these resources and must not import goGate.
package flows
