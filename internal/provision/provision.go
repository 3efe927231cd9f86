// Package provision builds the tunnel-configuration payload handed to a
// device being enrolled. External tooling renders it as a QR code.
package provision

import (
	"fmt"
	"net/url"
)

// Payload carries everything a device needs to route through the relay.
type Payload struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
	URL      string `json:"url"`
}

// Build assembles a payload. The URL field is the proxy URL form most mobile
// VPN/proxy clients accept directly.
func Build(host, port, identity, secret string) Payload {
	return Payload{
		Host:     host,
		Port:     port,
		Identity: identity,
		Secret:   secret,
		URL: fmt.Sprintf("http://%s:%s@%s:%s",
			url.QueryEscape(identity), url.QueryEscape(secret), host, port),
	}
}
