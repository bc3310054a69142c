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

// Package cli wires the command line surface to the migration engine.
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	imapmove "github.com/foxcpp/imapmove"
	"github.com/foxcpp/imapmove/framework/log"
	"github.com/foxcpp/imapmove/internal/credentials"
	"github.com/foxcpp/imapmove/internal/i18n"
	"github.com/foxcpp/imapmove/internal/migrate"
	"github.com/foxcpp/imapmove/internal/oauth2flow"
)

// Exit codes: 0 normal completion (skipped messages included), 1
// exhausted reconnect attempts or fatal setup error, 130 user
// interrupt.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// maxTimeout is the hard cap on --timeout.
const maxTimeout = 300

// Run executes the application and returns the process exit code.
func Run(args []string) int {
	code := ExitOK

	app := cli.NewApp()
	app.Name = "imapmove"
	app.Usage = "server-to-server IMAP mailbox migration"
	app.Description = `imapmove copies all messages in all folders of one IMAP account into
another, preserving Message-ID identity, folder structure, INTERNALDATE
and flags. Already-migrated messages are skipped, so interrupted runs
can simply be repeated.

Account pairs are read from a credentials.json file in the current
directory.`
	app.Version = imapmove.BuildInfo()
	app.HideHelpCommand = true
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging with error details",
		},
		&cli.StringFlag{
			Name:  "language",
			Usage: "language `CODE` for messages (e.g. en, pt-BR)",
		},
		&cli.BoolFlag{
			Name:  "gen-tokens",
			Usage: "acquire/refresh OAuth2 tokens, do not migrate",
		},
		&cli.BoolFlag{
			Name:  "no-logs",
			Usage: "do not write a log file for this run",
		},
		&cli.IntFlag{
			Name:  "timeout",
			Usage: "reconnect gap and command timeout in `SECONDS` (capped at 300)",
			Value: 30,
		},
		&cli.IntFlag{
			Name:  "attempts",
			Usage: "reconnect attempts before giving up",
			Value: 5,
		},
		&cli.StringFlag{
			Name:  "credentials",
			Usage: "account pair `FILE`",
			Value: "credentials.json",
		},
		&cli.StringFlag{
			Name:  "client-secret",
			Usage: "OAuth2 client secret `FILE` for OAUTH2 accounts",
			Value: "client_secret.json",
		},
	}
	app.Action = func(c *cli.Context) error {
		code = run(c)
		return nil
	}

	if err := app.Run(args); err != nil {
		log.DefaultLogger.Error("app.Run failed", err)
		return ExitFailure
	}
	return code
}

func run(c *cli.Context) int {
	strings := i18n.New(c.String("language"))

	logger := log.Logger{
		Out:   log.WriterOutput(os.Stderr, false),
		Debug: c.Bool("debug"),
	}
	if !c.Bool("no-logs") {
		fileOut, name, err := log.RunFileOutput("", time.Now())
		if err != nil {
			logger.Error("cannot create log file", err)
			return ExitFailure
		}
		defer fileOut.Close()
		logger.Out = log.MultiOutput(logger.Out, fileOut)
		logger.DebugMsg("logging to file", "file", name)
	}

	pairs, err := credentials.Load(c.String("credentials"))
	if err != nil {
		if errors.Is(err, credentials.ErrNoFile) {
			logger.Println(strings.Tr("credentials.missing", c.String("credentials")))
		} else {
			logger.Error("invalid credentials file", err)
		}
		return ExitFailure
	}

	timeout := c.Int("timeout")
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	if timeout < 1 {
		timeout = 1
	}

	var tokens *oauth2flow.Provider
	oauthEmails := oauthAccounts(pairs)
	if len(oauthEmails) != 0 || c.Bool("gen-tokens") {
		tokens = &oauth2flow.Provider{
			ClientSecretPath: c.String("client-secret"),
			Strings:          strings,
			Log:              log.Logger{Out: logger.Out, Name: "oauth2", Debug: logger.Debug},
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("gen-tokens") {
		if err := tokens.Generate(ctx, oauthEmails, os.Stdin, os.Stdout); err != nil {
			logger.Error("token generation failed", err)
			return ExitFailure
		}
		return ExitOK
	}

	eng := &migrate.Engine{
		Pairs:   pairs,
		Strings: strings,
		Log:     logger,
		Config: migrate.Config{
			Debug:      c.Bool("debug"),
			Timeout:    time.Duration(timeout) * time.Second,
			Attempts:   c.Int("attempts"),
			RetryDelay: time.Duration(timeout) * time.Second,
		},
	}
	if tokens != nil {
		eng.Tokens = tokens
	}

	switch err := eng.Run(ctx); {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// oauthAccounts collects the distinct emails of all OAUTH2 credentials,
// in configuration order.
func oauthAccounts(pairs []credentials.Pair) []string {
	seen := make(map[string]bool)
	var emails []string
	for _, pair := range pairs {
		for _, cred := range []credentials.Credential{pair.Src, pair.Dst} {
			if cred.Security != credentials.SecurityOAuth2 || seen[cred.Email] {
				continue
			}
			seen[cred.Email] = true
			emails = append(emails, cred.Email)
		}
	}
	return emails
}
