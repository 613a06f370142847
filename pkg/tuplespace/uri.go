package tuplespace

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is the registry port used when a URI omits one.
const DefaultPort = 9001

// URI identifies a registry endpoint and, for clients, the space to bind to:
//
//	tcp://host:port/space?keep
//
// Gate URIs leave Space empty. Keep makes a gate accept connections until
// it is closed rather than only the first one.
type URI struct {
	Host  string
	Port  int
	Space string
	Keep  bool
}

// ParseURI parses a connection URI. Only the tcp scheme is supported.
func ParseURI(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if u.Scheme != "tcp" {
		return URI{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return URI{}, fmt.Errorf("%w: missing host", ErrInvalidURI)
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 0 || port > 65535 {
			return URI{}, fmt.Errorf("%w: bad port %q", ErrInvalidURI, p)
		}
	}

	space := strings.Trim(u.Path, "/")
	if strings.Contains(space, "/") {
		return URI{}, fmt.Errorf("%w: space name %q must be a single path segment", ErrInvalidURI, space)
	}

	_, keep := u.Query()["keep"]
	return URI{Host: host, Port: port, Space: space, Keep: keep}, nil
}

// Address returns the host:port dial/listen address.
func (u URI) Address() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

func (u URI) String() string {
	s := fmt.Sprintf("tcp://%s/%s", u.Address(), u.Space)
	if u.Keep {
		s += "?keep"
	}
	return s
}

// SpaceURI builds the client URI for space on host:port.
func SpaceURI(host string, port int, space string) string {
	return URI{Host: host, Port: port, Space: space, Keep: true}.String()
}

// GateURI builds the gate URI the registry listens on.
func GateURI(host string, port int) string {
	return URI{Host: host, Port: port, Keep: true}.String()
}
