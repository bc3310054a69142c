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

// Package migrate drives two IMAP sessions in lockstep to copy every
// message of every folder from a source account to a destination
// account, idempotently.
package migrate

import (
	"context"
	"errors"
	"time"

	"github.com/emersion/go-imap"

	"github.com/foxcpp/imapmove/framework/exterrors"
	"github.com/foxcpp/imapmove/framework/log"
	"github.com/foxcpp/imapmove/internal/credentials"
	"github.com/foxcpp/imapmove/internal/i18n"
	"github.com/foxcpp/imapmove/internal/imapconn"
	"github.com/foxcpp/imapmove/internal/namespace"
)

// ErrRetriesExhausted is returned by Run when at least one account pair
// was abandoned because the reconnect attempt budget ran out.
var ErrRetriesExhausted = errors.New("migrate: reconnect attempts exhausted")

// errAuthLost aborts the current pair when re-authentication fails
// during a reconnect.
var errAuthLost = errors.New("migrate: authentication lost during reconnect")

// errOverquota terminates the current pair when the destination refuses
// an APPEND with [OVERQUOTA].
var errOverquota = errors.New("migrate: destination mailbox over quota")

// TokenProvider supplies XOAUTH2 bearer tokens for OAUTH2 credentials.
// Invalidate drops the cached token so the next run re-authorizes.
type TokenProvider interface {
	Token(email string) (string, error)
	Invalidate(email string) error
}

// Config carries the tuning parameters the engine consumes.
type Config struct {
	Debug bool
	// Per-command socket timeout.
	Timeout time.Duration
	// Reconnect attempts per suspension point.
	Attempts int
	// Gap before each reconnect attempt.
	RetryDelay time.Duration
}

// Engine migrates the configured account pairs sequentially. One pair,
// one folder, one message at a time; IMAP APPEND is rate-limited on
// most hosts, so parallelism yields throttling, not throughput.
type Engine struct {
	Pairs   []credentials.Pair
	Tokens  TokenProvider
	Strings *i18n.Catalog
	Log     log.Logger
	Config  Config
}

// sessions holds the two IMAP connections of the pair being processed.
// Either slot may be nil when connecting failed halfway.
type sessions struct {
	src *imapconn.C
	dst *imapconn.C
}

// Run processes every account pair. The returned error is nil on
// normal completion (even when messages or folders were skipped),
// ErrRetriesExhausted when any pair ran out of reconnect attempts, and
// the context error on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	e.Log.Println(e.Strings.Tr("migration.start", len(e.Pairs)))

	exhausted := false
	for _, pair := range e.Pairs {
		if ctx.Err() != nil {
			e.Log.Println(e.Strings.Tr("interrupted"))
			return ctx.Err()
		}

		e.Log.Println(e.Strings.Tr("pair.start", pair.Src.Email, pair.Dst.Email))
		err := e.runPair(ctx, pair)
		switch {
		case err == nil:
			e.Log.Println(e.Strings.Tr("pair.done", pair.Src.Email, pair.Dst.Email))
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			e.Log.Println(e.Strings.Tr("interrupted"))
			return err
		case errors.Is(err, ErrRetriesExhausted):
			e.Log.Error("account pair abandoned", err, "src", pair.Src.Email)
			exhausted = true
		default:
			e.Log.Error("account pair failed", err, "src", pair.Src.Email)
		}
	}

	e.Log.Println(e.Strings.Tr("done"))
	if exhausted {
		return ErrRetriesExhausted
	}
	return nil
}

func (e *Engine) runPair(ctx context.Context, pair credentials.Pair) error {
	sess, err := e.connectPair(pair)
	if err != nil {
		e.disconnect(sess)
		if exterrors.IsKind(err, exterrors.KindAuth) {
			e.Log.Println(e.Strings.Tr("auth.failed", pair.Src.Email))
		}
		e.Log.Error("cannot establish sessions", err, "src", pair.Src.Email)
		// Fatal for this pair only, the next pairs still run.
		return nil
	}
	defer e.disconnect(sess)

	sup := &supervisor{
		attempts: e.Config.Attempts,
		delay:    e.Config.RetryDelay,
		log:      e.Log,
		strings:  e.Strings,
		rebuild: func(ctx context.Context) error {
			return e.rebuildSessions(ctx, pair, sess)
		},
	}

	err = e.migratePair(ctx, pair, sess, sup)
	if errors.Is(err, errOverquota) {
		e.Log.Println(e.Strings.Tr("overquota"))
		return nil
	}
	return err
}

func (e *Engine) migratePair(ctx context.Context, pair credentials.Pair, sess *sessions, sup *supervisor) error {
	var srcList, dstList []*imap.MailboxInfo
	err := sup.do(ctx, func() error {
		var err error
		srcList, err = sess.src.List()
		return err
	})
	if err != nil {
		return err
	}
	err = sup.do(ctx, func() error {
		var err error
		dstList, err = sess.dst.List()
		return err
	})
	if err != nil {
		return err
	}
	e.Log.Println(e.Strings.Tr("folders.list", len(srcList)))

	resolver := &namespace.Resolver{
		Src:     namespace.Resolve(srcList),
		Dst:     namespace.Resolve(dstList),
		DstHost: pair.Dst.Server,
	}
	return e.migrateFolders(ctx, sess, sup, resolver)
}

// connectPair establishes and authenticates both sessions. On failure
// the returned sessions value carries whatever was established so the
// caller can release it.
func (e *Engine) connectPair(pair credentials.Pair) (*sessions, error) {
	sess := &sessions{}

	e.Log.Println(e.Strings.Tr("connect.src", pair.Src.Server))
	src, err := e.connect(pair.Src, "auth.src")
	sess.src = src
	if err != nil {
		return sess, err
	}

	e.Log.Println(e.Strings.Tr("connect.dst", pair.Dst.Server))
	dst, err := e.connect(pair.Dst, "auth.dst")
	sess.dst = dst
	if err != nil {
		return sess, err
	}
	return sess, nil
}

func (e *Engine) connect(cred credentials.Credential, authKey string) (*imapconn.C, error) {
	c := &imapconn.C{
		ConnectTimeout: e.Config.Timeout,
		CommandTimeout: e.Config.Timeout,
		Log:            log.Logger{Out: e.Log.Out, Name: "imap", Debug: e.Config.Debug},
	}
	if err := c.Connect(cred); err != nil {
		return nil, err
	}

	var token string
	if cred.Security == credentials.SecurityOAuth2 {
		if e.Tokens == nil {
			_ = c.Logout()
			return nil, errors.New("migrate: OAUTH2 credential but no token provider")
		}
		var err error
		token, err = e.Tokens.Token(cred.Email)
		if err != nil {
			_ = c.Logout()
			return nil, err
		}
	}

	e.Log.Println(e.Strings.Tr(authKey, cred.Email))
	if err := c.Authenticate(cred, token); err != nil {
		if cred.Security == credentials.SecurityOAuth2 && e.Tokens != nil {
			// Cached token may be stale or revoked, force a fresh
			// authorization on the next run.
			_ = e.Tokens.Invalidate(cred.Email)
		}
		return c, err
	}
	return c, nil
}

// disconnect releases whatever sessions exist: CLOSE when a mailbox is
// selected, then LOGOUT. Errors are ignored, the connections are gone
// either way.
func (e *Engine) disconnect(sess *sessions) {
	if sess == nil {
		return
	}
	for _, c := range []*imapconn.C{sess.src, sess.dst} {
		if c == nil {
			continue
		}
		if c.State() == imap.SelectedState {
			_ = c.Close()
		}
		_ = c.Logout()
	}
}

// rebuildSessions tears down both sessions and establishes them anew,
// restoring the folders that were selected before the failure.
// Authentication failures are reported as errAuthLost, which aborts the
// pair instead of burning further attempts.
func (e *Engine) rebuildSessions(ctx context.Context, pair credentials.Pair, sess *sessions) error {
	srcFolder := ""
	dstFolder := ""
	if sess.src != nil {
		srcFolder = sess.src.Mailbox()
	}
	if sess.dst != nil {
		dstFolder = sess.dst.Mailbox()
	}
	e.disconnect(sess)

	fresh, err := e.connectPair(pair)
	sess.src, sess.dst = fresh.src, fresh.dst
	if err != nil {
		if exterrors.IsKind(err, exterrors.KindAuth) {
			return errAuthLost
		}
		return err
	}

	if srcFolder != "" {
		if _, err := sess.src.Select(srcFolder, true); err != nil {
			return err
		}
	}
	if dstFolder != "" {
		if _, err := sess.dst.Select(dstFolder, false); err != nil {
			return err
		}
	}
	return ctx.Err()
}
