// Package fetch defines the fetcher side of a run: the Session interface a
// run drives, the error taxonomy the retrying executor acts on, and the HTTP
// client shared by the concrete fetchers in the subpackages.
//
// Errors returned by a Session are classified with KindOf:
//   - KindTimeout: the request timed out; retried after a backoff
//   - KindElementNotFound: the response lacked the expected content; retried
//   - KindSessionInvalid: the session is unusable; a fresh one is created
//   - KindUnknown: anything else; retried after a backoff
//
// The HTTP client is built on resty with a cookie jar, an optional SOCKS5
// proxy (a Tor daemon, for instance) and a browser-like TLS fingerprint.
package fetch
