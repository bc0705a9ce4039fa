package configtypes

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseListenAddress splits a listen address into host and port.
// Supported formats:
//   - ":10070"            -> host="", port=10070 (all interfaces)
//   - "10070"             -> host="", port=10070
//   - "0.0.0.0:10070"     -> host="0.0.0.0", port=10070
//   - "localhost:10070"   -> host="localhost", port=10070
func ParseListenAddress(listen string) (host string, port int, err error) {
	if listen == "" {
		return "", 0, fmt.Errorf("listen address is empty")
	}

	if !strings.Contains(listen, ":") {
		p, err := strconv.Atoi(listen)
		if err != nil {
			return "", 0, fmt.Errorf("invalid listen address format: %s", listen)
		}
		return "", p, nil
	}

	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address format: %s: %w", listen, err)
	}

	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in listen address: %s", portStr)
	}

	return host, port, nil
}

// ValidateListenAddress checks format and port range
func ValidateListenAddress(listen string) error {
	_, port, err := ParseListenAddress(listen)
	if err != nil {
		return err
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	return nil
}

// NormalizeListen returns the address in host:port form, ":port" for all interfaces
func NormalizeListen(listen string) (string, error) {
	host, port, err := ParseListenAddress(listen)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// AdvertiseAddress resolves the host and port peers should use to reach this process.
// An explicit advertise address wins. Otherwise the listen port is combined with
// the listen host, or fallbackHost when listening on all interfaces.
func AdvertiseAddress(advertise, listen, fallbackHost string) (string, int, error) {
	source := listen
	if advertise != "" {
		source = advertise
	}

	host, port, err := ParseListenAddress(source)
	if err != nil {
		return "", 0, err
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = fallbackHost
	}
	if host == "" {
		return "", 0, fmt.Errorf("cannot determine advertise host for %q", source)
	}

	return host, port, nil
}
