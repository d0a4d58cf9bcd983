package tor

import "errors"

// Proxy check errors.
var (
	// ErrProxyNotSOCKS5 is returned when the proxy address answers but does
	// not speak SOCKS5, or asks for an authentication method we cannot offer.
	ErrProxyNotSOCKS5 = errors.New("proxy is not a SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// can be established. Usually Tor is not running.
	ErrProxyCannotConnect = errors.New("cannot connect to SOCKS5 proxy")

	// ErrProxyTimeout is returned when the proxy does not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to SOCKS5 proxy")

	// ErrProxyAuthFailed is returned when the proxy rejects the credentials
	// embedded in the proxy URL.
	ErrProxyAuthFailed = errors.New("SOCKS5 proxy rejected the credentials")

	// ErrInvalidProxyAddress is returned when the proxy URL is not
	// socks5://host:port.
	ErrInvalidProxyAddress = errors.New("invalid proxy address: expected socks5://host:port")

	// ErrNotRunning is returned when the embedded daemon has not been started.
	ErrNotRunning = errors.New("embedded Tor daemon is not running")
)

// ProxyStatus represents the result of checking a proxy.
type ProxyStatus int

const (
	// ProxyStatusOK indicates the proxy completed a SOCKS5 handshake.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType indicates the address answered with something
	// other than SOCKS5.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect indicates no connection could be made.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout indicates the proxy did not answer in time.
	ProxyStatusTimeout

	// ProxyStatusAuthFailed indicates the proxy rejected the credentials.
	ProxyStatusAuthFailed
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not SOCKS5)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	case ProxyStatusAuthFailed:
		return "authentication failed"
	default:
		return "unknown"
	}
}

// Error returns the error for this status, or nil if OK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotSOCKS5
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	case ProxyStatusAuthFailed:
		return ErrProxyAuthFailed
	default:
		return errors.New("unknown proxy status")
	}
}
