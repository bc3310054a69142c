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

package imapconn

import (
	"bytes"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"

	"github.com/foxcpp/imapmove/framework/exterrors"
	"github.com/foxcpp/imapmove/internal/credentials"
)

// testServer starts an in-process IMAP server with the memory backend.
// The backend has one canned account, username/password, with a
// non-empty INBOX.
func testServer(t *testing.T) credentials.Credential {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		_ = s.Serve(listener)
	}()
	t.Cleanup(func() { _ = s.Close() })

	addr := listener.Addr().(*net.TCPAddr)
	return credentials.Credential{
		Email:    "username",
		Password: "password",
		Server:   addr.IP.String(),
		Port:     addr.Port,
		Security: credentials.SecurityPlain,
	}
}

func connect(t *testing.T, cred credentials.Credential) *C {
	t.Helper()

	c := &C{
		ConnectTimeout: 5 * time.Second,
		CommandTimeout: 5 * time.Second,
	}
	if err := c.Connect(cred); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Logout() })
	return c
}

func TestSessionStates(t *testing.T) {
	cred := testServer(t)
	c := connect(t, cred)

	if c.State() != imap.NotAuthenticatedState {
		t.Fatalf("after connect: state %v", c.State())
	}
	if err := c.Authenticate(cred, ""); err != nil {
		t.Fatal(err)
	}
	if c.State() != imap.AuthenticatedState {
		t.Fatalf("after authenticate: state %v", c.State())
	}

	if _, err := c.Select("INBOX", true); err != nil {
		t.Fatal(err)
	}
	if c.State() != imap.SelectedState || c.Mailbox() != "INBOX" {
		t.Fatalf("after select: state %v, mailbox %q", c.State(), c.Mailbox())
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if c.Mailbox() != "" {
		t.Fatalf("after close: mailbox %q", c.Mailbox())
	}
}

func TestAuthenticateFailure(t *testing.T) {
	cred := testServer(t)
	c := connect(t, cred)

	bad := cred
	bad.Password = "wrong"
	err := c.Authenticate(bad, "")
	if err == nil {
		t.Fatal("want authentication error")
	}
	if !exterrors.IsKind(err, exterrors.KindAuth) {
		t.Errorf("want AUTH_FAILURE, got %v (fields %v)", err, exterrors.Fields(err))
	}
}

func TestFetchAppendSearch(t *testing.T) {
	cred := testServer(t)
	c := connect(t, cred)
	if err := c.Authenticate(cred, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		t.Fatal(err)
	}

	seqs, err := c.SearchAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 1 {
		t.Fatalf("canned INBOX: want 1 message, got %d", len(seqs))
	}

	header, err := c.FetchHeader(seqs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(bytes.ToLower(header), []byte("message-id")) {
		t.Errorf("header block has no Message-ID: %q", header)
	}
	if bytes.Contains(header, []byte("Hi there")) {
		t.Error("header fetch returned the body")
	}

	body, err := c.FetchBody(seqs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(body, []byte("\r\n\r\n")) {
		t.Error("body fetch did not return the full message")
	}

	msg := "From: x@example.org\r\n" +
		"To: y@example.org\r\n" +
		"Subject: appended\r\n" +
		"Message-Id: <appended-1@example.org>\r\n" +
		"\r\n" +
		"appended body\r\n"
	stamp := time.Date(2020, 5, 11, 14, 0, 0, 0, time.UTC)
	if err := c.Append("INBOX", nil, stamp, []byte(msg)); err != nil {
		t.Fatal(err)
	}

	// Reselect to refresh the sequence numbering.
	if _, err := c.Select("INBOX", false); err != nil {
		t.Fatal(err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", "<appended-1@example.org>")
	seqs, err = c.Search(criteria)
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 1 {
		t.Fatalf("appended message not found: %v", seqs)
	}

	if err := c.AddFlags(seqs[0], []string{imap.FlaggedFlag}); err != nil {
		t.Fatal(err)
	}
	flags, err := c.FetchFlags(seqs[0])
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range flags {
		if f == imap.FlaggedFlag {
			found = true
		}
	}
	if !found {
		t.Errorf("\\Flagged not set: %v", flags)
	}
}

func TestFetchVanishedMessage(t *testing.T) {
	cred := testServer(t)
	c := connect(t, cred)
	if err := c.Authenticate(cred, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		t.Fatal(err)
	}

	// The server answers OK with no FETCH data for a sequence number
	// that no longer exists, the same as for a message expunged between
	// SEARCH and FETCH.
	_, err := c.FetchHeader(99)
	if err == nil {
		t.Fatal("want error for a missing message")
	}
	if !exterrors.IsKind(err, exterrors.KindProtocol) {
		t.Errorf("want PROTOCOL_ERROR, got %v (fields %v)", err, exterrors.Fields(err))
	}
	if exterrors.IsTemporary(err) {
		t.Error("a missing message must not trigger reconnect attempts")
	}

	_, err = c.FetchBody(99)
	if !exterrors.IsKind(err, exterrors.KindProtocol) {
		t.Errorf("body fetch: want PROTOCOL_ERROR, got %v", err)
	}
}

func TestCreate(t *testing.T) {
	cred := testServer(t)
	c := connect(t, cred)
	if err := c.Authenticate(cred, ""); err != nil {
		t.Fatal(err)
	}

	if err := c.Create("Archive/2020"); err != nil {
		t.Fatal(err)
	}
	mailboxes, err := c.List()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, info := range mailboxes {
		if info.Name == "Archive/2020" {
			found = true
		}
	}
	if !found {
		t.Error("created mailbox missing from LIST")
	}
}

func TestConnectRefused(t *testing.T) {
	// Grab a free port and close it again so nobody listens there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()

	c := &C{ConnectTimeout: 5 * time.Second}
	err = c.Connect(credentials.Credential{
		Email:    "username",
		Password: "password",
		Server:   addr.IP.String(),
		Port:     addr.Port,
		Security: credentials.SecurityPlain,
	})
	if err == nil {
		t.Fatal("want connect error")
	}
	if !exterrors.IsKind(err, exterrors.KindConnRefused) {
		t.Errorf("want CONNECT_REFUSED, got %v", err)
	}
}

func TestXOAUTH2InitialResponse(t *testing.T) {
	cl := NewXOAUTH2Client("someuser@example.com", "ya29.token")
	mech, ir, err := cl.Start()
	if err != nil {
		t.Fatal(err)
	}
	if mech != "XOAUTH2" {
		t.Errorf("mechanism %q", mech)
	}
	want := "user=someuser@example.com\x01auth=Bearer ya29.token\x01\x01"
	if string(ir) != want {
		t.Errorf("initial response %q, want %q", ir, want)
	}

	// Error challenge is answered with an empty response once.
	resp, err := cl.Next([]byte(`{"status":"400"}`))
	if err != nil || len(resp) != 0 {
		t.Errorf("first challenge: resp %q, err %v", resp, err)
	}
	if _, err := cl.Next(nil); err == nil {
		t.Error("second challenge must fail")
	}
}

func TestAddressFormatting(t *testing.T) {
	cred := credentials.Credential{Server: "imap.example.org", Port: 993}
	want := "imap.example.org:" + strconv.Itoa(993)
	if cred.Address() != want {
		t.Errorf("got %q", cred.Address())
	}
	if !strings.Contains(cred.Address(), ":") {
		t.Error("no port separator")
	}
}
