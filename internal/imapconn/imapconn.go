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

// Package imapconn wraps an IMAP client connection into a connection
// object with timeouts, TLS configuration, session state tracking and
// uniform error classification.
package imapconn

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/foxcpp/imapmove/framework/exterrors"
	"github.com/foxcpp/imapmove/framework/log"
	"github.com/foxcpp/imapmove/internal/credentials"
)

// C represents one IMAP session.
//
// Methods on C mirror protocol operations and are not goroutine-safe.
// All errors returned by C methods are *exterrors.IMAPError with
// op and remote_server fields attached.
type C struct {
	// Timeout for the initial TCP connection and the TLS handshake.
	ConnectTimeout time.Duration
	// Deadline applied to each command round-trip.
	CommandTimeout time.Duration
	// TLS configuration used for implicit TLS and STARTTLS.
	// A nil config is valid and uses sane defaults.
	TLSConfig *tls.Config

	Log log.Logger

	cl       *client.Client
	server   string
	selected string
}

func (c *C) wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	err = exterrors.ClassifyIMAP(err)
	return exterrors.WithFields(err, map[string]interface{}{
		"op":            op,
		"remote_server": c.server,
	})
}

// Connect establishes the session to the endpoint of cred per its
// security mode. PLAIN and STARTTLS dial cleartext (STARTTLS upgrades
// before returning), SSL and OAUTH2 dial implicit TLS.
//
// On success the connection is in the CONNECTED state.
func (c *C) Connect(cred credentials.Credential) error {
	c.server = cred.Address()

	dialer := &net.Dialer{Timeout: c.ConnectTimeout}
	tlsCfg := c.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{}
	}
	if tlsCfg.ServerName == "" {
		cfg := tlsCfg.Clone()
		cfg.ServerName = cred.Server
		tlsCfg = cfg
	}

	var (
		cl  *client.Client
		err error
	)
	switch cred.Security {
	case credentials.SecuritySSL, credentials.SecurityOAuth2:
		cl, err = client.DialWithDialerTLS(dialer, c.server, tlsCfg)
	case credentials.SecurityPlain, credentials.SecuritySTARTTLS:
		cl, err = client.DialWithDialer(dialer, c.server)
	default:
		return c.wrapErr("connect", exterrors.WithKind(
			errUnknownSecurity(cred.Security), exterrors.KindProtocol))
	}
	if err != nil {
		return c.wrapErr("connect", err)
	}
	cl.Timeout = c.CommandTimeout

	if cred.Security == credentials.SecuritySTARTTLS {
		if err := cl.StartTLS(tlsCfg); err != nil {
			// Cleartext session without the upgrade is useless, drop it.
			_ = cl.Logout()
			return c.wrapErr("starttls", exterrors.WithKind(err, exterrors.KindTLS))
		}
	}

	c.cl = cl
	c.selected = ""
	c.Log.DebugMsg("connected", "remote_server", c.server)
	return nil
}

type errUnknownSecurity credentials.Security

func (e errUnknownSecurity) Error() string {
	return "imapconn: unknown security mode: " + string(e)
}

// Authenticate authenticates the session. For OAUTH2 credentials the
// XOAUTH2 SASL mechanism is used with the passed bearer token, for all
// other modes LOGIN with the credential password. token is ignored
// unless the credential is OAUTH2.
//
// Any server rejection is reported as an AUTH_FAILURE regardless of the
// status response details.
func (c *C) Authenticate(cred credentials.Credential, token string) error {
	var err error
	if cred.Security == credentials.SecurityOAuth2 {
		err = c.cl.Authenticate(NewXOAUTH2Client(cred.Email, token))
	} else {
		err = c.cl.Login(cred.Email, cred.Password)
	}
	if err != nil {
		return c.wrapErr("authenticate", exterrors.WithKind(err, exterrors.KindAuth))
	}
	c.Log.DebugMsg("authenticated", "username", cred.Email)
	return nil
}

// List returns all mailboxes visible to the account.
func (c *C) List() ([]*imap.MailboxInfo, error) {
	ch := make(chan *imap.MailboxInfo, 64)
	done := make(chan error, 1)
	go func() {
		done <- c.cl.List("", "*", ch)
	}()

	var mailboxes []*imap.MailboxInfo
	for info := range ch {
		mailboxes = append(mailboxes, info)
	}
	if err := <-done; err != nil {
		return nil, c.wrapErr("list", err)
	}
	return mailboxes, nil
}

// Select opens the mailbox, entering the SELECTED state.
func (c *C) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	status, err := c.cl.Select(name, readOnly)
	if err != nil {
		return nil, c.wrapErr("select", err)
	}
	c.selected = name
	return status, nil
}

// Create creates the mailbox on the server.
func (c *C) Create(name string) error {
	return c.wrapErr("create", c.cl.Create(name))
}

// Search runs SEARCH over the selected mailbox and returns matching
// sequence numbers in ascending order.
func (c *C) Search(criteria *imap.SearchCriteria) ([]uint32, error) {
	seqs, err := c.cl.Search(criteria)
	if err != nil {
		return nil, c.wrapErr("search", err)
	}
	return seqs, nil
}

// SearchAll returns the sequence numbers of every message in the
// selected mailbox.
func (c *C) SearchAll() ([]uint32, error) {
	return c.Search(imap.NewSearchCriteria())
}

// errNoSection reports a FETCH that completed without the requested
// section data, typically a message expunged between SEARCH and FETCH.
// Classified as PROTOCOL_ERROR, not a connection loss: reconnecting
// cannot bring the message back.
var errNoSection = errors.New("imapconn: no section data in FETCH response")

func (c *C) fetchSection(seq uint32, section *imap.BodySectionName) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(seq)

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.cl.Fetch(seqset, []imap.FetchItem{section.FetchItem()}, ch)
	}()

	var literal imap.Literal
	for msg := range ch {
		literal = msg.GetBody(section)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	if literal == nil {
		return nil, exterrors.WithKind(errNoSection, exterrors.KindProtocol)
	}
	return io.ReadAll(literal)
}

// FetchHeader fetches the raw RFC 5322 header block of the message via
// BODY.PEEK, leaving the \Seen flag untouched.
func (c *C) FetchHeader(seq uint32) ([]byte, error) {
	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}
	blob, err := c.fetchSection(seq, section)
	if err != nil {
		return nil, c.wrapErr("fetch header", err)
	}
	return blob, nil
}

// FetchBody fetches the whole message via BODY.PEEK.
func (c *C) FetchBody(seq uint32) ([]byte, error) {
	section := &imap.BodySectionName{Peek: true}
	blob, err := c.fetchSection(seq, section)
	if err != nil {
		return nil, c.wrapErr("fetch body", err)
	}
	return blob, nil
}

// FetchFlags returns the flags set on the message.
func (c *C) FetchFlags(seq uint32) ([]string, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(seq)

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.cl.Fetch(seqset, []imap.FetchItem{imap.FetchFlags}, ch)
	}()

	var flags []string
	for msg := range ch {
		flags = msg.Flags
	}
	if err := <-done; err != nil {
		return nil, c.wrapErr("fetch flags", err)
	}
	return flags, nil
}

// Append stores body as a new message in the mailbox. A zero date asks
// the server to assign the current time as INTERNALDATE.
func (c *C) Append(mailbox string, flags []string, date time.Time, body []byte) error {
	return c.wrapErr("append", c.cl.Append(mailbox, flags, date, bytes.NewReader(body)))
}

// AddFlags adds flags to the message with a silent +FLAGS STORE.
func (c *C) AddFlags(seq uint32, flags []string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(seq)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	values := make([]interface{}, 0, len(flags))
	for _, f := range flags {
		values = append(values, f)
	}
	return c.wrapErr("store", c.cl.Store(seqset, item, values, nil))
}

// Close leaves the SELECTED state. It is an error to call Close when no
// mailbox is selected.
func (c *C) Close() error {
	err := c.wrapErr("close", c.cl.Close())
	if err == nil {
		c.selected = ""
	}
	return err
}

// Logout ends the session and releases the network connection. Safe to
// call in any connected state.
func (c *C) Logout() error {
	c.selected = ""
	return c.wrapErr("logout", c.cl.Logout())
}

// State returns the IMAP connection state, imap.LogoutState if the
// session was never established.
func (c *C) State() imap.ConnState {
	if c.cl == nil {
		return imap.LogoutState
	}
	return c.cl.State()
}

// Mailbox returns the name of the selected mailbox, "" if none.
func (c *C) Mailbox() string {
	return c.selected
}

// Server returns the host:port this session was connected to.
func (c *C) Server() string {
	return c.server
}
