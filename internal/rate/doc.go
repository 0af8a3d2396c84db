// Package rate implements the failed-login throttle placed in front of the
// credential verifier.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys:
//   - <prefix>:lf:u:<identifier>  failed logins per identifier
//   - <prefix>:lf:ip:<ip>         failed logins per client IP
//
// Once an identifier has MaxLoginAttempts failures in the window, further
// attempts are refused until the window expires or a login succeeds.
package rate
