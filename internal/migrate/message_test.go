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
	"testing"
	"time"
)

func TestParseIdentity(t *testing.T) {
	header := []byte("From: Alice <alice@example.org>\r\n" +
		"To: bob@example.org\r\n" +
		"Date: Mon, 01 Jan 2024 10:00:00 +0000\r\n" +
		"Message-Id: <a@x>\r\n" +
		"\r\n")

	id := parseIdentity(header)
	if id.messageID != "<a@x>" {
		t.Errorf("messageID %q", id.messageID)
	}
	if id.from != "alice@example.org" || id.to != "bob@example.org" {
		t.Errorf("addresses %q / %q", id.from, id.to)
	}
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !id.sent.Equal(want) {
		t.Errorf("sent %v", id.sent)
	}
	if !id.usable() {
		t.Error("identity not usable")
	}
}

func TestParseIdentityOddMessageID(t *testing.T) {
	// IDs the strict parser rejects still yield the bracketed substring.
	header := []byte("Message-Id: <0000000@localhost/>\r\n\r\n")
	id := parseIdentity(header)
	if id.messageID != "<0000000@localhost/>" {
		t.Errorf("messageID %q", id.messageID)
	}
}

func TestParseIdentityMissingMessageID(t *testing.T) {
	header := []byte("From: alice@example.org\r\n" +
		"To: bob@example.org\r\n" +
		"Date: Mon, 01 Jan 2024 10:00:00 +0000\r\n" +
		"\r\n")
	id := parseIdentity(header)
	if id.messageID != "" {
		t.Errorf("messageID %q", id.messageID)
	}
	if !id.usable() {
		t.Error("fallback identity not usable")
	}

	criteria := id.criteria()
	if len(criteria.Header["From"]) != 1 || len(criteria.Header["To"]) != 1 {
		t.Errorf("criteria %v", criteria.Header)
	}
	if criteria.SentSince.IsZero() || !criteria.SentBefore.Equal(criteria.SentSince.Add(24*time.Hour)) {
		t.Errorf("SENTON window %v .. %v", criteria.SentSince, criteria.SentBefore)
	}
}

func TestParseIdentityGarbage(t *testing.T) {
	id := parseIdentity([]byte("not a header at all"))
	if id.usable() {
		t.Errorf("garbage produced identity %v", id)
	}
}

func TestIdentityString(t *testing.T) {
	id := identity{from: "a@x", to: "b@y", sent: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	if got := id.String(); got != "a@x/b@y/01-Jan-2024" {
		t.Errorf("got %q", got)
	}
	id.messageID = "<a@x>"
	if got := id.String(); got != "<a@x>" {
		t.Errorf("got %q", got)
	}
}
