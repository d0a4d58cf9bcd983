// Package tor prepares the SOCKS5 route requests can take.
//
// CheckProxy performs a SOCKS5 handshake against a configured proxy before a
// run starts, so a stopped Tor daemon is reported once instead of as a retry
// storm on every item. EmbeddedTor starts a private Tor daemon through
// tornago for users without one.
package tor
