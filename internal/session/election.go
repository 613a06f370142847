package session

import (
	"errors"
	"fmt"
	"net"
)

// DefaultProbeAddress is dialled over UDP only so the OS picks the outbound
// interface. No packet is sent.
const DefaultProbeAddress = "8.8.8.8:10002"

// ErrNoRoute is returned when the probe address cannot be routed.
var ErrNoRoute = errors.New("session: no route to probe address")

// Elector decides whether this process hosts the arena by comparing its
// outbound address with the agreed host address.
//
// This is a heuristic, not an election: a host address that does not match
// the operator's real interface silently makes nobody (or the wrong machine)
// the host.
type Elector struct {
	HostAddress  string
	ProbeAddress string

	// LocalAddr reports the local address used to reach probe. Nil uses a
	// connected UDP socket.
	LocalAddr func(probe string) (string, error)
}

// NewElector builds an Elector for hostAddress. An empty probe selects
// DefaultProbeAddress.
func NewElector(hostAddress, probe string) *Elector {
	if probe == "" {
		probe = DefaultProbeAddress
	}
	return &Elector{HostAddress: hostAddress, ProbeAddress: probe}
}

// IsHost reports whether the local outbound address equals HostAddress.
func (e *Elector) IsHost() (bool, error) {
	local, err := e.Local()
	if err != nil {
		return false, err
	}
	return local == e.HostAddress, nil
}

// Local returns the outbound address the OS selects for the probe.
func (e *Elector) Local() (string, error) {
	lookup := e.LocalAddr
	if lookup == nil {
		lookup = udpLocalAddr
	}
	local, err := lookup(e.ProbeAddress)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrNoRoute, e.ProbeAddress, err)
	}
	return local, nil
}

func udpLocalAddr(probe string) (string, error) {
	conn, err := net.Dial("udp", probe)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
