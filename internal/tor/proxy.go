package tor

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"
)

// checkProxyTimeout bounds the whole handshake. This is a connectivity check,
// not a request through the network.
const checkProxyTimeout = 5 * time.Second

// SOCKS5 protocol constants (RFC 1928, RFC 1929).
const (
	socks5Version      = 0x05
	socks5AuthNone     = 0x00
	socks5AuthPassword = 0x02
	socks5AuthNoAccept = 0xFF
	socks5CmdConnect   = 0x01
	socks5AddrDomain   = 0x03
	socks5AuthVersion  = 0x01

	// checkHost is only named in the CONNECT request. Any reply, including a
	// failure code, proves the proxy processes requests.
	checkHost = "example.com"
	checkPort = 80
)

// ProxyAddress validates a socks5:// URL and returns its host:port.
func ProxyAddress(proxyURL string) (string, error) {
	u, err := url.Parse(proxyURL)
	if err != nil || (u.Scheme != "socks5" && u.Scheme != "socks5h") {
		return "", ErrInvalidProxyAddress
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" {
		return "", ErrInvalidProxyAddress
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", ErrInvalidProxyAddress
	}
	return u.Host, nil
}

// ProxyURL formats a host:port SOCKS address as a socks5:// URL.
func ProxyURL(addr string) string {
	return "socks5://" + addr
}

// CheckProxy verifies that proxyURL points at a working SOCKS5 proxy by
// running the method negotiation, the optional username/password exchange
// and one CONNECT request.
func CheckProxy(ctx context.Context, proxyURL string) ProxyStatus {
	addr, err := ProxyAddress(proxyURL)
	if err != nil {
		return ProxyStatusWrongType
	}
	u, _ := url.Parse(proxyURL) //nolint:errcheck // validated by ProxyAddress

	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}

	method := byte(socks5AuthNone)
	if u.User != nil {
		method = socks5AuthPassword
	}
	if _, err := conn.Write([]byte{socks5Version, 0x01, method}); err != nil {
		return ProxyStatusCannotConnect
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return readFailure(err)
	}
	if reply[0] != socks5Version || reply[1] == socks5AuthNoAccept || reply[1] != method {
		return ProxyStatusWrongType
	}

	if method == socks5AuthPassword {
		if status := authenticate(conn, u.User); status != ProxyStatusOK {
			return status
		}
	}

	req := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AddrDomain, byte(len(checkHost))}
	req = append(req, checkHost...)
	req = append(req, byte(checkPort>>8), byte(checkPort&0xFF))
	if _, err := conn.Write(req); err != nil {
		return ProxyStatusCannotConnect
	}

	head := make([]byte, 4)
	if _, err := io.ReadFull(conn, head); err != nil {
		return readFailure(err)
	}
	if head[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

func authenticate(conn net.Conn, user *url.Userinfo) ProxyStatus {
	name := user.Username()
	password, _ := user.Password()
	if len(name) > 255 || len(password) > 255 {
		return ProxyStatusAuthFailed
	}

	req := []byte{socks5AuthVersion, byte(len(name))}
	req = append(req, name...)
	req = append(req, byte(len(password)))
	req = append(req, password...)
	if _, err := conn.Write(req); err != nil {
		return ProxyStatusCannotConnect
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return readFailure(err)
	}
	if reply[1] != 0x00 {
		return ProxyStatusAuthFailed
	}
	return ProxyStatusOK
}

func readFailure(err error) ProxyStatus {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ProxyStatusTimeout
	}
	return ProxyStatusWrongType
}
