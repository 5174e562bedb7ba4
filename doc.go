// Package nexusterminal implements the authentication and
// account-protection core of the Nexus Terminal web console: password
// login with optional TOTP and passkey second factors, an IP-based
// brute-force ledger with timed bans, a one-time admin bootstrap guard,
// and asynchronous audit/notification emission.
//
// The Engine is the orchestrator. It is handed interface-typed
// collaborators (credential store, passkey store, settings store,
// CAPTCHA verifier, audit and notification sinks) through the Builder
// and never reaches for global state. Per-client authentication state
// lives in a session.Context that callers load, pass by pointer into
// Engine operations, and persist afterwards.
package nexusterminal
