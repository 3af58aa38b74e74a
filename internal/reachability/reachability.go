// Package reachability runs the startup-time connectivity sanity check of
// spec.md §4.5: an ICMP echo to a configured host and an HTTP GET of a
// configured URL, both of which must succeed.
package reachability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"restreamer/internal/restreamerrors"
)

// Checker performs the two-part reachability check. It is used once, at
// process startup.
type Checker struct {
	pingIP  string
	curlURL string
	timeout time.Duration
	client  *http.Client
	logger  zerolog.Logger
}

// New constructs a Checker. timeout bounds both the ICMP round trip and
// the HTTP GET.
func New(pingIP, curlURL string, timeout time.Duration, logger zerolog.Logger) *Checker {
	return &Checker{
		pingIP:  pingIP,
		curlURL: curlURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CheckConnection runs both the ICMP echo and the HTTP GET, returning nil
// only if both succeed. Either failure is reported as ErrUnreachable so
// callers can distinguish it from other startup failures via errors.Is.
func (c *Checker) CheckConnection(ctx context.Context) error {
	if err := c.pingHost(ctx); err != nil {
		c.logger.Error().Err(err).Str("host", c.pingIP).Msg("reachability: icmp echo failed")
		return fmt.Errorf("%w: icmp echo to %s: %v", restreamerrors.ErrUnreachable, c.pingIP, err)
	}
	if err := c.httpGet(ctx); err != nil {
		c.logger.Error().Err(err).Str("url", c.curlURL).Msg("reachability: http GET failed")
		return fmt.Errorf("%w: http GET %s: %v", restreamerrors.ErrUnreachable, c.curlURL, err)
	}
	return nil
}

func (c *Checker) pingHost(ctx context.Context) error {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return fmt.Errorf("opening icmp socket: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting icmp deadline: %w", err)
	}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("restreamer-reachability"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("marshaling icmp echo: %w", err)
	}

	dst, err := resolveUDPAddr(c.pingIP)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", c.pingIP, err)
	}

	if _, err := conn.WriteTo(wb, dst); err != nil {
		return fmt.Errorf("sending icmp echo: %w", err)
	}

	reply := make([]byte, 1500)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		return fmt.Errorf("reading icmp reply: %w", err)
	}

	parsed, err := icmp.ParseMessage(1, reply[:n])
	if err != nil {
		return fmt.Errorf("parsing icmp reply: %w", err)
	}
	if parsed.Type != ipv4.ICMPTypeEchoReply {
		return fmt.Errorf("unexpected icmp reply type %v", parsed.Type)
	}
	return nil
}

func resolveUDPAddr(host string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", host+":0")
}

func (c *Checker) httpGet(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.curlURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
