package model

import (
	"fmt"
	"strconv"
	"strings"
)

// User is a user and optional group, by name or numeric id.
type User struct {
	User  string `json:"user" yaml:"user" validate:"required"`
	Group string `json:"group,omitempty" yaml:"group,omitempty"`
}

// ParseUser parses "user[:group]".
func ParseUser(s string) (User, error) {
	s = strings.TrimSpace(s)
	user, group, _ := strings.Cut(s, ":")
	if user == "" {
		return User{}, fmt.Errorf("invalid user %q", s)
	}
	return User{User: user, Group: group}, nil
}

// DefaultUser is the unprivileged user runtime stages switch to.
func DefaultUser() User {
	return User{User: "1000", Group: "1000"}
}

// String renders "user[:group]".
func (u User) String() string {
	if u.Group == "" {
		return u.User
	}
	return u.User + ":" + u.Group
}

// IsRoot reports whether the user is the superuser.
func (u User) IsRoot() bool {
	return u.User == "0" || u.User == "root"
}

// IsNumeric reports whether s is a numeric id.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 32)
	return err == nil
}

// Protocol is a port protocol.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Port is an exposed port.
type Port struct {
	Port     uint16   `json:"port" yaml:"port" validate:"required"`
	Protocol Protocol `json:"protocol,omitempty" yaml:"protocol,omitempty" validate:"omitempty,oneof=tcp udp"`
}

// ParsePort parses "port[/protocol]".
func ParsePort(s string) (Port, error) {
	num, proto, _ := strings.Cut(strings.TrimSpace(s), "/")
	p, err := strconv.ParseUint(num, 10, 16)
	if err != nil || p == 0 {
		return Port{}, fmt.Errorf("invalid port %q", s)
	}
	port := Port{Port: uint16(p)}
	switch Protocol(strings.ToLower(proto)) {
	case "":
	case ProtocolTCP:
		port.Protocol = ProtocolTCP
	case ProtocolUDP:
		port.Protocol = ProtocolUDP
	default:
		return Port{}, fmt.Errorf("invalid port protocol %q", proto)
	}
	return port, nil
}

// String renders "port[/protocol]".
func (p Port) String() string {
	if p.Protocol == "" {
		return strconv.Itoa(int(p.Port))
	}
	return fmt.Sprintf("%d/%s", p.Port, p.Protocol)
}
