package util

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

func isLoopback(host string) bool {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	hostname = strings.Trim(hostname, "[]")
	if hostname == "localhost" {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// Normalizes a host, or http(s) URL, into a websocket URL. Bare hosts get
// wss:// unless they are loopback. Unknown schemes are left alone.
func WebsocketURL(host string) string {
	if host == "" {
		return ""
	}
	scheme, rest, found := strings.Cut(host, "://")
	if !found {
		if isLoopback(host) {
			return "ws://" + host
		}
		return "wss://" + host
	}
	switch scheme {
	case "https":
		return "wss://" + rest
	case "http":
		return "ws://" + rest
	}
	return host
}

// Websocket URL for a chat gateway host, with protocol version and JSON
// encoding query params set. Existing params on the host are kept.
func GatewayURL(host string, version int) (string, error) {
	u, err := url.Parse(WebsocketURL(host))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(version))
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
