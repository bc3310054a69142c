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

// Package namespace maps mailbox names between two IMAP servers that
// disagree on hierarchy separators, INBOX prefixing and special-use
// folder naming.
package namespace

import (
	"strings"

	"github.com/emersion/go-imap"
)

// Entry is one parsed LIST line.
type Entry struct {
	Attributes []string
	Name       string
}

// Namespace describes how one server lays out its mailbox hierarchy.
// Separator and Prefix are derived from the LIST output once and never
// change for the session.
type Namespace struct {
	// Hierarchy separator, from the first LIST line. May be empty when
	// the server returns a NIL delimiter.
	Separator string
	// "INBOX."-style prefix under which user folders live (Courier and
	// some Dovecot setups), including the trailing separator. Empty when
	// folders live alongside INBOX.
	Prefix string

	Entries []Entry
}

// Resolve derives the Namespace from LIST output. The prefix candidate
// "INBOX" + separator survives only if every non-INBOX name contains it.
func Resolve(infos []*imap.MailboxInfo) Namespace {
	ns := Namespace{}
	if len(infos) == 0 {
		return ns
	}
	ns.Separator = infos[0].Delimiter

	candidate := "INBOX" + ns.Separator
	prefix := candidate
	for _, info := range infos {
		if info.Name == "INBOX" {
			continue
		}
		if !strings.Contains(info.Name, candidate) {
			prefix = ""
			break
		}
	}
	if ns.Separator == "" {
		prefix = ""
	}
	ns.Prefix = prefix

	for _, info := range infos {
		ns.Entries = append(ns.Entries, Entry{
			Attributes: info.Attributes,
			Name:       info.Name,
		})
	}
	return ns
}

// Skip reports whether the entry must not be migrated: mailboxes marked
// \Noselect cannot be opened, \All and \Flagged are virtual views over
// messages that live elsewhere. Attributes are compared as whole tokens.
func Skip(e Entry) bool {
	for _, attr := range e.Attributes {
		switch strings.ToLower(attr) {
		case strings.ToLower(imap.NoSelectAttr), `\all`, `\flagged`:
			return true
		}
	}
	return false
}

// Special-use roles recognized for cross-server folder matching.
var roles = []string{"Sent", "Drafts", "Junk", "Trash", "Archive"}

// roleOf returns the special-use role of the entry, "" if none. The
// role is taken from the entry attributes (\Sent etc.) or, failing
// that, from the name carrying the role as a backslash- or
// dot-prefixed label or being the role itself.
func (ns *Namespace) roleOf(name string) string {
	var entry *Entry
	for i := range ns.Entries {
		if ns.Entries[i].Name == name {
			entry = &ns.Entries[i]
			break
		}
	}

	for _, role := range roles {
		if entry != nil {
			for _, attr := range entry.Attributes {
				if strings.EqualFold(attr, `\`+role) {
					return role
				}
			}
		}
		if strings.EqualFold(name, role) ||
			hasFoldSuffix(name, `\`+role) || hasFoldSuffix(name, "."+role) {
			return role
		}
	}
	return ""
}

func hasFoldSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

// bare strips the namespace prefix and a "[Gmail]" parent from the
// entry name, yielding the name a user would recognize.
func (ns *Namespace) bare(name string) string {
	name = strings.TrimPrefix(name, ns.Prefix)
	if ns.Separator != "" {
		name = strings.TrimPrefix(name, "[Gmail]"+ns.Separator)
	}
	return name
}

// Resolver maps source mailbox names to destination ones.
type Resolver struct {
	Src Namespace
	Dst Namespace

	// Destination hostname, for the [Gmail] literal adjustment.
	DstHost string
}

// Map translates the source mailbox name into the name the same
// messages should live under at the destination.
//
// Special-use folders are matched by role first, so a Courier-style
// INBOX.Sent lands in Gmail's "Sent Mail" rather than in a newly
// created folder. Everything else is a textual rewrite of prefix and
// separator.
func (r *Resolver) Map(src string) string {
	if role := r.Src.roleOf(src); role != "" {
		for _, entry := range r.Dst.Entries {
			if r.Dst.roleOf(entry.Name) == role {
				return r.Dst.bare(entry.Name)
			}
		}
	}

	d := src
	if r.Src.Prefix != r.Dst.Prefix && d != "INBOX" {
		if r.Src.Prefix != "" {
			d = strings.TrimPrefix(d, r.Src.Prefix)
		}
		if r.Dst.Prefix != "" {
			d = "INBOX." + d
		}
	}
	if r.Src.Separator != "" && r.Dst.Separator != "" &&
		r.Src.Separator != r.Dst.Separator {
		d = strings.ReplaceAll(d, r.Src.Separator, r.Dst.Separator)
	}

	if r.Dst.Separator == "/" {
		d = strings.TrimPrefix(d, "INBOX/")
	}
	if strings.Contains(d, "[Gmail]") && !isGmailHost(r.DstHost) && r.Dst.Separator != "" {
		d = strings.Replace(d, "[Gmail]"+r.Dst.Separator, "", 1)
	}
	return d
}

func isGmailHost(host string) bool {
	host = strings.ToLower(host)
	return host == "gmail.com" || strings.HasSuffix(host, ".gmail.com") ||
		host == "imap.gmail.com"
}
