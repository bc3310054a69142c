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

package migrate

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"

	"github.com/foxcpp/imapmove/framework/log"
	"github.com/foxcpp/imapmove/internal/credentials"
	"github.com/foxcpp/imapmove/internal/i18n"
)

// testServer starts an in-process IMAP server over the memory backend.
// The canned account is username/password with one message in INBOX.
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

func dial(t *testing.T, cred credentials.Credential) *imapclient.Client {
	t.Helper()
	cl, err := imapclient.Dial(cred.Address())
	if err != nil {
		t.Fatal(err)
	}
	if err := cl.Login(cred.Email, cred.Password); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cl.Logout() })
	return cl
}

func seed(t *testing.T, cred credentials.Credential, folder string, flags []string, body string) {
	t.Helper()
	cl := dial(t, cred)
	if folder != "INBOX" {
		// Ignore "already exists".
		_ = cl.Create(folder)
	}
	if err := cl.Append(folder, flags, time.Now(), strings.NewReader(body)); err != nil {
		t.Fatal(err)
	}
}

func messageCount(t *testing.T, cred credentials.Credential, folder string) uint32 {
	t.Helper()
	cl := dial(t, cred)
	status, err := cl.Select(folder, true)
	if err != nil {
		t.Fatalf("select %s: %v", folder, err)
	}
	return status.Messages
}

func testLogger(t *testing.T) log.Logger {
	t.Helper()
	return log.Logger{
		Debug: true,
		Out: log.FuncOutput(func(_ time.Time, _ bool, msg string) {
			t.Log(msg)
		}, func() error { return nil }),
	}
}

func testEngine(t *testing.T, src, dst credentials.Credential) *Engine {
	t.Helper()
	return &Engine{
		Pairs:   []credentials.Pair{{Src: src, Dst: dst}},
		Strings: i18n.New("en"),
		Log:     testLogger(t),
		Config: Config{
			Debug:      true,
			Timeout:    10 * time.Second,
			Attempts:   2,
			RetryDelay: 10 * time.Millisecond,
		},
	}
}

const testMessage = "From: alice@example.org\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: hello\r\n" +
	"Date: Mon, 01 Jan 2024 10:00:00 +0000\r\n" +
	"Message-Id: <a@x>\r\n" +
	"\r\n" +
	"body text\r\n"

func TestIdentityCopy(t *testing.T) {
	src := testServer(t)
	dst := testServer(t)
	seed(t, src, "Work", []string{imap.SeenFlag}, testMessage)

	if err := testEngine(t, src, dst).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	cl := dial(t, dst)
	if _, err := cl.Select("Work", true); err != nil {
		t.Fatalf("destination folder missing: %v", err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", "<a@x>")
	seqs, err := cl.Search(criteria)
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 1 {
		t.Fatalf("want 1 copied message, found %d", len(seqs))
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqs[0])
	ch := make(chan *imap.Message, 1)
	items := []imap.FetchItem{imap.FetchFlags, imap.FetchInternalDate}
	if err := cl.Fetch(seqset, items, ch); err != nil {
		t.Fatal(err)
	}
	msg := <-ch

	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !msg.InternalDate.UTC().Equal(want) {
		t.Errorf("INTERNALDATE %v, want %v", msg.InternalDate.UTC(), want)
	}

	seen := false
	for _, f := range msg.Flags {
		if f == imap.SeenFlag {
			seen = true
		}
	}
	if !seen {
		t.Errorf("\\Seen not preserved: %v", msg.Flags)
	}
}

func TestIdempotentRerun(t *testing.T) {
	src := testServer(t)
	dst := testServer(t)
	seed(t, src, "Work", nil, testMessage)

	eng := testEngine(t, src, dst)
	if err := eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := messageCount(t, dst, "Work")
	firstInbox := messageCount(t, dst, "INBOX")

	if err := eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := messageCount(t, dst, "Work"); got != first {
		t.Errorf("rerun appended messages: %d -> %d", first, got)
	}
	if got := messageCount(t, dst, "INBOX"); got != firstInbox {
		t.Errorf("rerun duplicated INBOX: %d -> %d", firstInbox, got)
	}
}

func TestDuplicateSkip(t *testing.T) {
	src := testServer(t)
	dst := testServer(t)
	seed(t, src, "Work", nil, testMessage)
	seed(t, dst, "Work", nil, testMessage)

	if err := testEngine(t, src, dst).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := messageCount(t, dst, "Work"); got != 1 {
		t.Errorf("duplicate was appended: %d messages", got)
	}
}

func TestMissingMessageIDFallback(t *testing.T) {
	noID := "From: alice@example.org\r\n" +
		"To: bob@example.org\r\n" +
		"Subject: first copy\r\n" +
		"Date: Mon, 01 Jan 2024 10:00:00 +0000\r\n" +
		"\r\n" +
		"no id here\r\n"
	src := testServer(t)
	dst := testServer(t)
	seed(t, src, "Work", nil, noID)
	// Same sender, recipient and day already present at the destination.
	seed(t, dst, "Work", nil, strings.Replace(noID, "first copy", "other subject", 1))

	if err := testEngine(t, src, dst).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := messageCount(t, dst, "Work"); got != 1 {
		t.Errorf("fallback probe missed the duplicate: %d messages", got)
	}
}

func TestSourceNotMutated(t *testing.T) {
	src := testServer(t)
	dst := testServer(t)
	seed(t, src, "Work", nil, testMessage)

	if err := testEngine(t, src, dst).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	cl := dial(t, src)
	if _, err := cl.Select("Work", true); err != nil {
		t.Fatal(err)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(1)
	ch := make(chan *imap.Message, 1)
	if err := cl.Fetch(seqset, []imap.FetchItem{imap.FetchFlags}, ch); err != nil {
		t.Fatal(err)
	}
	msg := <-ch
	for _, f := range msg.Flags {
		if f == imap.SeenFlag {
			t.Errorf("source gained \\Seen: %v", msg.Flags)
		}
	}
}

func TestAuthFailureMovesToNextPair(t *testing.T) {
	src := testServer(t)
	dst := testServer(t)
	good := testServer(t)
	seed(t, src, "Work", nil, testMessage)

	badDst := dst
	badDst.Password = "wrong"
	eng := testEngine(t, src, badDst)
	eng.Pairs = append(eng.Pairs, credentials.Pair{Src: src, Dst: good})

	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("auth failure must not fail the run: %v", err)
	}
	if got := messageCount(t, good, "Work"); got != 1 {
		t.Errorf("second pair was not processed: %d messages", got)
	}
}

func TestCancellation(t *testing.T) {
	src := testServer(t)
	dst := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := testEngine(t, src, dst).Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("want context error, got %v", err)
	}
}
