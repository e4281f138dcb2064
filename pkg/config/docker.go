package config

import (
	"os"
	"strings"
	"sync"
)

// dockerHostGateway reaches services published on the machine running the container.
const dockerHostGateway = "host.docker.internal"

var inDocker = sync.OnceValue(func() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
})

// IsRunningInDocker reports whether the process runs inside a Docker container.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	return inDocker()
}

// ServiceHost returns the host to dial for a configured Postgres or Redis host.
// Inside a container a loopback host names the container itself, so it is
// swapped for the Docker host gateway.
func ServiceHost(host string) string {
	return resolveServiceHost(host, IsRunningInDocker())
}

func resolveServiceHost(host string, inContainer bool) string {
	if !inContainer {
		return host
	}
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostGateway
	}
	return host
}
