package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidAddress is returned by ParseAddress for anything that is not four
// dot-separated decimal octets.
var ErrInvalidAddress = errors.New("invalid IPv4 address")

// Address is an IPv4 address and port.
type Address struct {
	A, B, C, D byte
	Port       uint16
}

// ParseAddress parses "a.b.c.d" where every octet is a decimal number in
// 0..255. Host names and IPv6 are not accepted.
func ParseAddress(s string, port uint16) (Address, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 4 {
		return Address{}, errors.Wrapf(ErrInvalidAddress, "%q", s)
	}
	var octets [4]byte
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return Address{}, errors.Wrapf(ErrInvalidAddress, "%q", s)
		}
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return Address{}, errors.Wrapf(ErrInvalidAddress, "%q", s)
		}
		octets[i] = byte(v)
	}
	return Address{A: octets[0], B: octets[1], C: octets[2], D: octets[3], Port: port}, nil
}

// AddressFromUDP converts a UDP address. Non-IPv4 addresses yield the zero
// Address with the port preserved.
func AddressFromUDP(addr *net.UDPAddr) Address {
	if addr == nil {
		return Address{}
	}
	a := Address{Port: uint16(addr.Port)}
	if ip4 := addr.IP.To4(); ip4 != nil {
		a.A, a.B, a.C, a.D = ip4[0], ip4[1], ip4[2], ip4[3]
	}
	return a
}

// UDPAddr returns the address as a *net.UDPAddr.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(a.A, a.B, a.C, a.D), Port: int(a.Port)}
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.A, a.B, a.C, a.D, a.Port)
}
