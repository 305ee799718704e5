package anki

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// CheckConnectivity probes the endpoint with a version call and returns
// whether AnkiConnect answered, plus a message for the user. An endpoint
// without an http or https scheme fails without any network call.
func (c *Client) CheckConnectivity(ctx context.Context) (bool, string) {
	if !strings.HasPrefix(c.endpoint, "http://") && !strings.HasPrefix(c.endpoint, "https://") {
		return false, "Invalid URL: Must start with http:// or https://"
	}

	var version int
	err := c.call(ctx, c.probeTimeout, "version", nil, &version)
	if err != nil {
		msg := c.describe(err)
		c.logger.Warn("anki connectivity check failed", "endpoint", c.endpoint, "error", err)
		return false, msg
	}
	return true, fmt.Sprintf("Connected to AnkiConnect (version %d)", version)
}

// describe turns a call error into a diagnostic message.
func (c *Client) describe(err error) string {
	var se *storeError
	switch {
	case errors.As(err, &se):
		return "AnkiConnect returned an error: " + se.msg
	case errors.Is(err, errMalformed):
		return fmt.Sprintf("Unexpected response from %s: not an AnkiConnect endpoint? (%v)", c.endpoint, err)
	case isTimeout(err):
		return fmt.Sprintf("Connection to %s timed out. Is Anki running and responsive?", c.endpoint)
	case errors.Is(err, syscall.ECONNREFUSED):
		msg := fmt.Sprintf("Connection refused at %s. Make sure Anki is open with the AnkiConnect add-on installed.", c.endpoint)
		if c.hosted && isLoopback(c.endpoint) {
			msg += " This server runs remotely, so localhost is not your machine: expose AnkiConnect through a tunnel (for example ngrok) and use the tunnel URL."
		}
		return msg
	}
	return fmt.Sprintf("Could not reach AnkiConnect at %s: %v", c.endpoint, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isLoopback(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
