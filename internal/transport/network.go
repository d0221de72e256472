package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	probeTimeout    = 3 * time.Second
	fallbackTimeout = 5 * time.Second
)

var networkAddressRe = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3}):(\d{1,5})$`)

// ValidateNetworkAddress checks an "a.b.c.d:port" printer address:
// each octet in [0,255], port in [1,65535]. It runs before any network
// activity.
func ValidateNetworkAddress(addr string) error {
	m := networkAddressRe.FindStringSubmatch(addr)
	if m == nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddressFormat, addr)
	}
	for _, octet := range m[1:5] {
		n, _ := strconv.Atoi(octet)
		if n > 255 {
			return fmt.Errorf("%w: octet %s out of range", ErrInvalidAddressFormat, octet)
		}
	}
	port, _ := strconv.Atoi(m[5])
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidAddressFormat, port)
	}
	return nil
}

// proxyRequest is the print proxy wire contract: the payload rides as a
// plain JSON number array, not base64.
type proxyRequest struct {
	Address string `json:"address"`
	Data    []int  `json:"data"`
	Type    string `json:"type"`
}

// Network delivers payloads to an "ip:port" printer. With a proxy base
// URL configured, delivery goes through POST {base}/api/print and the
// outcome is verifiable. Without one, a direct request is attempted and
// the result is conservatively reported as a failure, because the
// response cannot be read.
type Network struct {
	address   string
	proxyBase string
	client    *http.Client
	log       zerolog.Logger

	// dial is swappable in tests
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewNetwork creates a network transport for one printer address
func NewNetwork(address, proxyBase string, client *http.Client, log zerolog.Logger) *Network {
	if client == nil {
		client = &http.Client{}
	}
	return &Network{
		address:   address,
		proxyBase: strings.TrimSuffix(proxyBase, "/"),
		client:    client,
		log:       log,
		dial:      net.DialTimeout,
	}
}

// Probe validates the address and attempts a TCP dial with a short
// timeout. Callers treat a probe failure as advisory.
func (n *Network) Probe(ctx context.Context) error {
	if err := ValidateNetworkAddress(n.address); err != nil {
		return err
	}

	conn, err := n.dial("tcp", n.address, probeTimeout)
	if err != nil {
		return fmt.Errorf("printer %s unreachable: %w", n.address, err)
	}
	return conn.Close()
}

// Send delivers one payload
func (n *Network) Send(ctx context.Context, payload []byte) error {
	if err := ValidateNetworkAddress(n.address); err != nil {
		return err
	}

	if n.proxyBase != "" {
		return n.sendViaProxy(ctx, payload)
	}
	return n.sendDirect(ctx, payload)
}

// Release is a no-op: no connection is held between sends
func (n *Network) Release() error {
	return nil
}

func (n *Network) sendViaProxy(ctx context.Context, payload []byte) error {
	data := make([]int, len(payload))
	for i, b := range payload {
		data[i] = int(b)
	}

	body, err := json.Marshal(proxyRequest{Address: n.address, Data: data, Type: "network"})
	if err != nil {
		return fmt.Errorf("failed to encode proxy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.proxyBase+"/api/print", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("print proxy unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("print proxy returned %s", resp.Status)
	}

	n.log.Debug().Str("printer", n.address).Int("bytes", len(payload)).Msg("delivered via proxy")
	return nil
}

// sendDirect fires the payload at the printer and reports a
// conservative failure: the response is unreadable, so success can
// never be confirmed. The data preview is logged for manual recovery.
func (n *Network) sendDirect(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, fallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+n.address, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build direct request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	if resp, err := n.client.Do(req); err == nil {
		resp.Body.Close()
	}

	n.log.Warn().
		Str("printer", n.address).
		Str("preview", preview(payload)).
		Msg("direct network delivery is unverifiable; receipt saved for manual printing")

	return fmt.Errorf("%w: receipt saved, print it manually from the job log", ErrUnverifiableDelivery)
}

// preview renders the leading printable bytes of a payload for the
// recovery log.
func preview(payload []byte) string {
	const max = 64
	var b strings.Builder
	for _, c := range payload {
		if b.Len() >= max {
			break
		}
		if c >= 0x20 && c < 0x7F {
			b.WriteByte(c)
		}
	}
	return b.String()
}
