// File: handshake/handshake.go
// Package handshake implements the RFC 6455 HTTP Upgrade exchange.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Provides both server-side and client-side handshake routines. Both sides
// read through a caller-owned bufio.Reader so that frame bytes arriving
// right behind the headers stay buffered for the frame decoder.

package handshake

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/momentics/hioload-wsmsg/api"
)

// Constants used for handshake processing.
const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	RequiredWebSocketVersion = "13"
	MaxHandshakeHeadersSize  = 8192
)

// Errors for handshake validation. All of them match api.ErrHandshakeFailed.
var (
	ErrInvalidUpgradeHeaders = fmt.Errorf("%w: invalid WebSocket upgrade headers", api.ErrHandshakeFailed)
	ErrMissingWebSocketKey   = fmt.Errorf("%w: missing Sec-WebSocket-Key header", api.ErrHandshakeFailed)
	ErrBadWebSocketVersion   = fmt.Errorf("%w: unsupported WebSocket version; only '13' is supported", api.ErrHandshakeFailed)
	ErrHeadersTooLarge       = fmt.Errorf("%w: headers too large", api.ErrHandshakeFailed)
	ErrBadAccept             = fmt.Errorf("%w: Sec-WebSocket-Accept mismatch", api.ErrHandshakeFailed)
	ErrBadStatus             = fmt.Errorf("%w: unexpected response status", api.ErrHandshakeFailed)
)

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
func ComputeAcceptKey(clientKey string) string {
	h := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

// Accept reads and validates the client's upgrade request from br and
// answers it with 101 Switching Protocols on w. A rejected request gets a
// 400 response before the error is returned.
func Accept(br *bufio.Reader, w io.Writer) (*http.Request, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, fmt.Errorf("handshake read request: %w", err)
	}
	if err := validateRequest(req); err != nil {
		io.WriteString(w, "HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
		return req, err
	}

	hdr := make(http.Header)
	hdr.Set(HeaderUpgrade, "websocket")
	hdr.Set(HeaderConnection, "Upgrade")
	hdr.Set(HeaderSecWebSocketAccept, ComputeAcceptKey(req.Header.Get(HeaderSecWebSocketKey)))
	if err := WriteResponse(w, hdr); err != nil {
		return req, fmt.Errorf("handshake write response: %w", err)
	}
	return req, nil
}

func validateRequest(req *http.Request) error {
	if req.Method != http.MethodGet {
		return ErrInvalidUpgradeHeaders
	}
	total := 0
	for k, vs := range req.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
		if total > MaxHandshakeHeadersSize {
			return ErrHeadersTooLarge
		}
	}
	if !headerContainsToken(req.Header, HeaderConnection, "Upgrade") ||
		!headerContainsToken(req.Header, HeaderUpgrade, "websocket") {
		return ErrInvalidUpgradeHeaders
	}
	if req.Header.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		return ErrBadWebSocketVersion
	}
	if req.Header.Get(HeaderSecWebSocketKey) == "" {
		return ErrMissingWebSocketKey
	}
	return nil
}

// WriteResponse writes the HTTP/1.1 101 Switching Protocols response
// with the provided headers to w.
func WriteResponse(w io.Writer, hdr http.Header) error {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	if err := hdr.Write(&sb); err != nil {
		return err
	}
	sb.WriteString("\r\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// Request writes a GET upgrade request for host and path on w and
// validates the server's answer read from br.
func Request(br *bufio.Reader, w io.Writer, host, path string, extra http.Header) error {
	key, err := newChallengeKey()
	if err != nil {
		return err
	}
	if path == "" {
		path = "/"
	}
	u := &url.URL{Scheme: "http", Host: host, Opaque: path}
	req := &http.Request{
		Method:     http.MethodGet,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       host,
	}
	for k, vs := range extra {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set(HeaderUpgrade, "websocket")
	req.Header.Set(HeaderConnection, "Upgrade")
	req.Header.Set(HeaderSecWebSocketKey, key)
	req.Header.Set(HeaderSecWebSocketVer, RequiredWebSocketVersion)
	if err := req.Write(w); err != nil {
		return fmt.Errorf("handshake write request: %w", err)
	}

	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return fmt.Errorf("handshake read response: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	if !headerContainsToken(resp.Header, HeaderUpgrade, "websocket") ||
		!headerContainsToken(resp.Header, HeaderConnection, "Upgrade") {
		return ErrInvalidUpgradeHeaders
	}
	if resp.Header.Get(HeaderSecWebSocketAccept) != ComputeAcceptKey(key) {
		return ErrBadAccept
	}
	return nil
}

func newChallengeKey() (string, error) {
	p := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, p); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(p), nil
}

// headerContainsToken checks if headerName contains the given token (case-insensitive).
func headerContainsToken(h http.Header, headerName, token string) bool {
	vals := h[http.CanonicalHeaderKey(headerName)]
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
