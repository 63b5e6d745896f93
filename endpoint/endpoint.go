// Package endpoint parses and renders shard node addresses of the form
// "[password@]host:port" or "unix:/path".
package endpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Endpoint identifies a single reachable shard node.
type Endpoint struct {
	Host       string
	Port       uint16
	Password   string
	UnixSocket string
}

// IsUnix reports whether this endpoint addresses a Unix domain socket
// rather than a host:port pair.
func (e Endpoint) IsUnix() bool {
	return e.UnixSocket != ""
}

// Parse decodes a "[password@]host:port", "[password@][ipv6]:port", or
// "unix:/path" address. IPv6 hosts must be bracketed, matching the
// ADDR/UNIXADDR grammar used by CLUSTERSET.
func Parse(s string) (Endpoint, error) {
	if rest, ok := strings.CutPrefix(s, "unix:"); ok {
		if rest == "" {
			return Endpoint{}, errors.New("endpoint: empty unix socket path")
		}
		return Endpoint{UnixSocket: rest}, nil
	}

	var password string
	if at := strings.LastIndex(s, "@"); at >= 0 {
		password, s = s[:at], s[at+1:]
	}

	host, portStr, err := splitHostPort(s)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "endpoint: parse %q", s)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "endpoint: invalid port in %q", s)
	}

	return Endpoint{Host: host, Port: uint16(port), Password: password}, nil
}

// splitHostPort splits "host:port" honoring the IPv6 bracket form
// "[addr]:port" without requiring a fully valid IP address (topology
// endpoints may be bare hostnames).
func splitHostPort(s string) (host, port string, err error) {
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", errors.New("unterminated IPv6 bracket")
		}
		host = s[1:end]
		rest := s[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return "", "", errors.New("missing port after IPv6 bracket")
		}
		return host, rest[1:], nil
	}

	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", errors.New("missing ':port'")
	}
	return s[:idx], s[idx+1:], nil
}

// String renders the endpoint back into "[password@]host:port" or
// "unix:/path" form. Parse(e.String()) reproduces e.
func (e Endpoint) String() string {
	if e.IsUnix() {
		return "unix:" + e.UnixSocket
	}

	host := e.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	hostport := fmt.Sprintf("%s:%d", host, e.Port)
	if e.Password != "" {
		return e.Password + "@" + hostport
	}
	return hostport
}
