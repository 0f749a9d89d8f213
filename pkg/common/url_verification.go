package common

import (
	"net"
	"net/url"
	"strings"
)

func hasKnownSchemePrefix(urlStr string) bool {
	for _, scheme := range []string{"http://", "https://", "ws://", "wss://", "grpc://"} {
		if strings.HasPrefix(urlStr, scheme) {
			return true
		}
	}
	return false
}

// ValidateURL checks an endpoint string against the set of schemes a flag
// accepts. Passing a single empty scheme means a bare host:port is required.
func ValidateURL(urlStr string, validSchemes []string) bool {
	if len(validSchemes) == 1 && validSchemes[0] == "" {
		host, port, err := net.SplitHostPort(urlStr)
		return err == nil && host != "" && port != "" && !hasKnownSchemePrefix(urlStr)
	}

	// url.Parse has to come after the host:port case since it fails on an
	// empty scheme.
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsedURL.Host == "" {
		return false
	}
	for _, scheme := range validSchemes {
		if parsedURL.Scheme == scheme {
			return true
		}
	}
	return false
}
