package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Scheme is the share-link scheme, as in localboard://host:port/room.
const Scheme = "localboard"

var ErrBadLink = errors.New("client: bad share link")

// Link identifies a room on a reachable server.
type Link struct {
	Host string
	Port int
	Room string
}

// ParseLink parses a localboard:// share link.
func ParseLink(raw string) (Link, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Link{}, fmt.Errorf("%w: %v", ErrBadLink, err)
	}
	if u.Scheme != Scheme {
		return Link{}, fmt.Errorf("%w: scheme %q", ErrBadLink, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Link{}, fmt.Errorf("%w: missing host", ErrBadLink)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return Link{}, fmt.Errorf("%w: port %q", ErrBadLink, u.Port())
	}
	room := strings.Trim(u.Path, "/")
	if room == "" || strings.Contains(room, "/") {
		return Link{}, fmt.Errorf("%w: room %q", ErrBadLink, room)
	}
	return Link{Host: host, Port: port, Room: room}, nil
}

func (l Link) addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

func (l Link) String() string {
	u := url.URL{Scheme: Scheme, Host: l.addr(), Path: "/" + l.Room}
	return u.String()
}

// WebSocketURL returns the server endpoint for the link.
func (l Link) WebSocketURL(path string) string {
	u := url.URL{Scheme: "ws", Host: l.addr(), Path: path}
	return u.String()
}
