// Package objectid defines the identifier every other package in grain
// addresses objects by: a (kind, id) pair naming a virtual actor, plus the
// address string naming the server that currently hosts it.
package objectid

import (
	"fmt"
	"net"
	"strings"
)

// ID names a single virtual actor by its runtime type tag (Kind) and its
// user-chosen instance identifier (ID). Equality is structural.
type ID struct {
	// Kind is the runtime type tag fixed per actor type, set once at
	// registration time via Registry.RegisterType.
	Kind string

	// ID is the user-chosen instance identifier, unique within Kind.
	ID string
}

// New builds an ID from a kind and instance id.
func New(kind, id string) ID {
	return ID{Kind: kind, ID: id}
}

// String renders the id as "kind/id", used in logs and error messages.
func (o ID) String() string {
	return o.Kind + "/" + o.ID
}

// IsZero reports whether o is the zero value.
func (o ID) IsZero() bool {
	return o.Kind == "" && o.ID == ""
}

// Address is a server address of the form "ip:port". It's a thin wrapper
// around the string so call sites can't accidentally swap an Address and a
// bare host string.
type Address string

// NewAddress joins an ip and port into an Address.
func NewAddress(ip string, port int) Address {
	return Address(fmt.Sprintf("%s:%d", ip, port))
}

// Split parses the address back into its host and port parts. A malformed
// address (the placement-resolution step in spec.md §4.4 calls this out
// explicitly) is reported as an error so the caller can treat the
// placement entry as unusable and fall through to "no placement".
func (a Address) Split() (host string, port string, err error) {
	host, port, err = net.SplitHostPort(string(a))
	if err != nil {
		return "", "", fmt.Errorf("malformed address %q: %w", a, err)
	}

	return host, port, nil
}

// Valid reports whether the address parses as "host:port".
func (a Address) Valid() bool {
	_, _, err := a.Split()
	return err == nil
}

func (a Address) String() string {
	return string(a)
}

// Equal reports whether two addresses name the same host:port, tolerating
// surrounding whitespace the way config-file-sourced addresses sometimes
// carry.
func (a Address) Equal(b Address) bool {
	return strings.TrimSpace(string(a)) == strings.TrimSpace(string(b))
}
