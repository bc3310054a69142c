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
	"errors"
	"fmt"
	"time"

	"github.com/foxcpp/imapmove/framework/exterrors"
	"github.com/foxcpp/imapmove/framework/log"
	"github.com/foxcpp/imapmove/internal/i18n"
)

// supervisor retries operations that failed with a connection-level
// error (TIMEOUT, ABORT). Each retry sleeps a fixed delay, then rebuilds
// both sessions end-to-end before re-running the operation. Tagged
// NO/BAD responses are the server's final word and pass through
// unretried.
//
// The loop is explicit with an attempt counter, never recursive.
type supervisor struct {
	attempts int
	delay    time.Duration
	log      log.Logger
	strings  *i18n.Catalog

	// rebuild re-establishes both sessions and reselects the folders
	// they had open. Injected by the engine; replaced in tests.
	rebuild func(ctx context.Context) error
}

func (s *supervisor) do(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !exterrors.IsTemporary(err) {
		return err
	}

	for attempt := 1; attempt <= s.attempts; attempt++ {
		s.log.Println(s.strings.Tr("reconnect",
			int(s.delay/time.Second), attempt, s.attempts))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}

		if rerr := s.rebuild(ctx); rerr != nil {
			if errors.Is(rerr, errAuthLost) || errors.Is(rerr, context.Canceled) ||
				errors.Is(rerr, context.DeadlineExceeded) {
				return rerr
			}
			s.log.Error("reconnect attempt failed", rerr, "attempt", attempt)
			err = rerr
			continue
		}

		err = op()
		if err == nil || !exterrors.IsTemporary(err) {
			return err
		}
	}

	s.log.Println(s.strings.Tr("reconnect.failed", s.attempts))
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
}
