/*
imapmove - server-to-server IMAP mailbox migration tool.
Copyright © 2023 imapmove contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package exterrors

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/emersion/go-imap"
)

// Kind is the coarse classification of an IMAP session failure. Callers
// branch on kinds, never on error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindDNS
	KindConnRefused
	KindTLS
	KindAuth
	KindProtocol
	KindTimeout
	KindAbort
	KindNo
	KindBad
)

func (k Kind) String() string {
	switch k {
	case KindDNS:
		return "DNS_FAILURE"
	case KindConnRefused:
		return "CONNECT_REFUSED"
	case KindTLS:
		return "TLS_FAILURE"
	case KindAuth:
		return "AUTH_FAILURE"
	case KindProtocol:
		return "PROTOCOL_ERROR"
	case KindTimeout:
		return "TIMEOUT"
	case KindAbort:
		return "ABORT"
	case KindNo:
		return "TAGGED_NO"
	case KindBad:
		return "TAGGED_BAD"
	default:
		return "UNKNOWN"
	}
}

// IMAPError is the classified form of a failure raised by an IMAP session
// operation.
//
// For KindNo and KindBad the server response text and the bracketed
// response code (if any) are preserved so conditions like [OVERQUOTA] can
// be detected by the caller.
type IMAPError struct {
	Kind Kind

	ResponseText string
	ResponseCode string

	Err error
}

func (e *IMAPError) Error() string {
	if e.ResponseText != "" {
		return "imap: " + strings.ToLower(e.Kind.String()) + ": " + e.ResponseText
	}
	if e.Err != nil {
		return "imap: " + e.Err.Error()
	}
	return "imap: " + strings.ToLower(e.Kind.String())
}

func (e *IMAPError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the Reconnect logic should consider
// re-establishing the session. Tagged NO/BAD responses are never
// temporary, they are the server's final word on the operation.
func (e *IMAPError) Temporary() bool {
	return e.Kind == KindTimeout || e.Kind == KindAbort
}

func (e *IMAPError) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"kind": e.Kind.String(),
	}
	if e.ResponseText != "" {
		f["response"] = e.ResponseText
	}
	if e.ResponseCode != "" {
		f["code"] = e.ResponseCode
	}
	return f
}

// ClassifyIMAP wraps err into an *IMAPError with the kind derived from the
// error chain, preserving the text and response code of a tagged NO/BAD
// status response. Passing a nil error returns nil. An error that is
// already classified is returned unchanged.
func ClassifyIMAP(err error) error {
	if err == nil {
		return nil
	}

	var already *IMAPError
	if errors.As(err, &already) {
		return err
	}

	wrapped := &IMAPError{Kind: classifyKind(err), Err: err}
	var status *imap.ErrStatusResp
	if errors.As(err, &status) && status.Resp != nil {
		wrapped.ResponseText = status.Resp.Info
		wrapped.ResponseCode = string(status.Resp.Code)
	}
	return wrapped
}

// WithKind forces the classification of err, keeping the response text of
// a tagged status response if one is present in the chain.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	wrapped := &IMAPError{Kind: kind, Err: err}
	var status *imap.ErrStatusResp
	if errors.As(err, &status) && status.Resp != nil {
		wrapped.ResponseText = status.Resp.Info
		wrapped.ResponseCode = string(status.Resp.Code)
	}
	return wrapped
}

func classifyKind(err error) Kind {
	var status *imap.ErrStatusResp
	if errors.As(err, &status) && status.Resp != nil {
		switch status.Resp.Type {
		case imap.StatusRespNo:
			return KindNo
		case imap.StatusRespBad:
			return KindBad
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnRefused
	}

	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return KindTimeout
	}

	var recordErr tls.RecordHeaderError
	var certErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) || errors.As(err, &hostErr) {
		return KindTLS
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return KindAbort
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindAbort
	}

	return KindProtocol
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	var classified *IMAPError
	return errors.As(err, &classified) && classified.Kind == kind
}

// IsOverquota reports whether err is a tagged response indicating that the
// destination mailbox storage is exhausted (RFC 2087 [OVERQUOTA]). Some
// servers only mention the condition in the human-readable text, so the
// response text is checked too.
func IsOverquota(err error) bool {
	var classified *IMAPError
	if !errors.As(err, &classified) {
		return false
	}
	if classified.ResponseCode == "OVERQUOTA" {
		return true
	}
	text := strings.ToUpper(classified.ResponseText)
	return strings.Contains(text, "OVERQUOTA")
}
