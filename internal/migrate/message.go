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
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"

	"github.com/foxcpp/imapmove/framework/exterrors"
	"github.com/foxcpp/imapmove/internal/namespace"
)

// identity is what makes a message recognizable at the destination:
// the Message-ID, or failing that the (From, To, sent-date) triple.
type identity struct {
	messageID string // with angle brackets
	from      string
	to        string
	sent      time.Time
}

func (id identity) criteria() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if id.messageID != "" {
		criteria.Header.Add("Message-Id", id.messageID)
		return criteria
	}
	if id.from != "" {
		criteria.Header.Add("From", id.from)
	}
	if id.to != "" {
		criteria.Header.Add("To", id.to)
	}
	if !id.sent.IsZero() {
		day := time.Date(id.sent.Year(), id.sent.Month(), id.sent.Day(), 0, 0, 0, 0, id.sent.Location())
		criteria.SentSince = day
		criteria.SentBefore = day.Add(24 * time.Hour)
	}
	return criteria
}

func (id identity) usable() bool {
	return id.messageID != "" || id.from != "" || id.to != "" || !id.sent.IsZero()
}

// String is used in log messages; the fallback triple is rendered in
// the SENTON form.
func (id identity) String() string {
	if id.messageID != "" {
		return id.messageID
	}
	return id.from + "/" + id.to + "/" + id.sent.Format("02-Jan-2006")
}

// parseIdentity extracts the migration identity and the sent date from
// a raw RFC 5322 header block. Malformed headers degrade to whatever
// fields are recoverable; a fully unusable header yields a zero
// identity.
func parseIdentity(headerBlob []byte) identity {
	var id identity

	// CreateReader may return a usable reader together with an error
	// for unknown charsets; only a nil reader is hopeless.
	mr, _ := mail.CreateReader(bytes.NewReader(headerBlob))
	if mr == nil {
		return id
	}
	h := mr.Header

	if mid, err := h.MessageID(); err == nil && mid != "" {
		id.messageID = "<" + mid + ">"
	} else if raw := h.Get("Message-Id"); raw != "" {
		// Some messages carry IDs the strict parser rejects; fall back
		// to the bracketed substring.
		if open := strings.Index(raw, "<"); open >= 0 {
			if end := strings.Index(raw[open:], ">"); end > 0 {
				id.messageID = raw[open : open+end+1]
			}
		}
	}

	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		id.from = addrs[0].Address
	}
	if addrs, err := h.AddressList("To"); err == nil && len(addrs) > 0 {
		id.to = addrs[0].Address
	}
	if date, err := h.Date(); err == nil {
		id.sent = date
	}
	return id
}

// replicator runs the per-message state machine against the pair's two
// sessions.
type replicator struct {
	engine   *Engine
	sess     *sessions
	sup      *supervisor
	resolver *namespace.Resolver
}

// replicateFolder copies the listed source messages into dstFolder.
// Returns errSkipFolder when the destination folder cannot be made
// ready, errOverquota when the destination storage is exhausted.
func (r *replicator) replicateFolder(ctx context.Context, srcFolder, dstFolder string, seqs []uint32) error {
	if err := r.ensureDstFolder(ctx, dstFolder); err != nil {
		return err
	}

	for _, seq := range seqs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.replicate(ctx, srcFolder, dstFolder, seq); err != nil {
			return err
		}
	}
	return nil
}

// ensureDstFolder selects the destination folder, creating it when the
// server answers SELECT with NO. Creation failure skips the folder.
func (r *replicator) ensureDstFolder(ctx context.Context, dstFolder string) error {
	e := r.engine

	err := r.sup.do(ctx, func() error {
		_, err := r.sess.dst.Select(dstFolder, false)
		return err
	})
	if err == nil {
		return nil
	}
	if isFatal(err) {
		return err
	}

	e.Log.Println(e.Strings.Tr("folder.create", dstFolder))
	err = r.sup.do(ctx, func() error {
		return r.sess.dst.Create(dstFolder)
	})
	if err == nil {
		err = r.sup.do(ctx, func() error {
			_, err := r.sess.dst.Select(dstFolder, false)
			return err
		})
	}
	if err != nil {
		if isFatal(err) {
			return err
		}
		e.Log.Println(e.Strings.Tr("folder.create_failed", dstFolder))
		e.Log.Error("destination folder not ready", err, "folder", dstFolder)
		return errSkipFolder
	}
	return nil
}

func (r *replicator) replicate(ctx context.Context, srcFolder, dstFolder string, seq uint32) error {
	e := r.engine

	var header []byte
	err := r.sup.do(ctx, func() error {
		var err error
		header, err = r.sess.src.FetchHeader(seq)
		return err
	})
	if err != nil {
		if isFatal(err) {
			return err
		}
		e.Log.Println(e.Strings.Tr("message.fetch_failed"))
		e.Log.Error("header fetch failed", err, "folder", srcFolder, "seq", seq)
		return nil
	}

	id := parseIdentity(header)
	if id.messageID == "" {
		e.Log.Println(e.Strings.Tr("message.no_id"))
	}

	if id.usable() {
		var found []uint32
		err = r.sup.do(ctx, func() error {
			var err error
			found, err = r.sess.dst.Search(id.criteria())
			return err
		})
		if err != nil {
			if isFatal(err) {
				return err
			}
			e.Log.Error("duplicate probe failed", err, "folder", dstFolder, "id", id.String())
			return nil
		}
		if len(found) > 0 {
			e.Log.Println(e.Strings.Tr("message.exists", id.String(), dstFolder))
			return nil
		}
	}

	var body []byte
	err = r.sup.do(ctx, func() error {
		var err error
		body, err = r.sess.src.FetchBody(seq)
		return err
	})
	if err != nil {
		if isFatal(err) {
			return err
		}
		e.Log.Println(e.Strings.Tr("message.fetch_failed"))
		e.Log.Error("body fetch failed", err, "folder", srcFolder, "seq", seq)
		return nil
	}

	// A zero date makes APPEND omit INTERNALDATE and the server stamps
	// the current time. Chronology is lost but the message survives.
	e.Log.Println(e.Strings.Tr("message.copy", id.String(), dstFolder))
	err = r.sup.do(ctx, func() error {
		return r.sess.dst.Append(dstFolder, nil, id.sent, body)
	})
	if err != nil {
		if exterrors.IsOverquota(err) {
			return errOverquota
		}
		if isFatal(err) {
			return err
		}
		e.Log.Error("append failed", err, "folder", dstFolder, "id", id.String())
		return nil
	}

	r.preserveFlags(ctx, dstFolder, seq, id)
	return nil
}

// preserveFlags copies the source flags (minus \Recent) onto the
// message just appended, located by the identity probe. Best-effort:
// failures are logged and migration continues.
func (r *replicator) preserveFlags(ctx context.Context, dstFolder string, seq uint32, id identity) {
	e := r.engine

	var flags []string
	err := r.sup.do(ctx, func() error {
		var err error
		flags, err = r.sess.src.FetchFlags(seq)
		return err
	})
	if err != nil {
		e.Log.Error("flag fetch failed", err, "seq", seq)
		return
	}

	keep := flags[:0]
	for _, f := range flags {
		if strings.EqualFold(f, imap.RecentFlag) {
			continue
		}
		keep = append(keep, f)
	}
	if len(keep) == 0 || !id.usable() {
		return
	}

	var found []uint32
	err = r.sup.do(ctx, func() error {
		var err error
		found, err = r.sess.dst.Search(id.criteria())
		return err
	})
	if err != nil {
		e.Log.Error("duplicate probe failed for flag store", err, "folder", dstFolder, "id", id.String())
		return
	}
	if len(found) == 0 {
		e.Log.DebugMsg("appended message not found for flag store", "folder", dstFolder, "id", id.String())
		return
	}

	if err := r.sess.dst.AddFlags(found[len(found)-1], keep); err != nil {
		e.Log.Error("flag store failed", err, "folder", dstFolder, "id", id.String())
	}
}
