// Copyright (c) 2026 - The rsvpkit authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli implements rsvpctl, the command line client of the engine.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/config"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/internal/engine"
	"github.com/rsvpkit/rsvpkit/internal/registry"
	"github.com/rsvpkit/rsvpkit/middleware/eventhandler/observer"
)

// ErrUsage is returned for an unknown command or missing flags.
var ErrUsage = errors.New("usage")

const usage = `usage: rsvpctl [flags] <command> [command flags]

commands:
  create     create an event
  get        show an event
  next-id    show the ID the next event will get
  rsvp       RSVP to an event with the deposit
  checkin    check in an attendee
  claim      claim the refund of a checked in attendee
  finalize   sweep the forfeited deposits to the beneficiary
  attendee   show the state of an attendee
  balance    show the accounting of an event
  audit      reconcile the ledgers with the vault
  watch      print notifications until interrupted

Without RSVPKIT_STORE and RSVPKIT_VAULT the state is kept in a sqlite file
and transfers go to the journal.
`

// Config holds the global flags.
type Config struct {
	config.Config

	EnvFile string
	Timeout time.Duration
	JSON    bool
}

// ParseConfig parses the environment and the global flags. The remaining
// arguments are the command and its flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, []string, error) {
	envFile := ".env"

	for i, arg := range args {
		if (arg == "-env" || arg == "--env") && i+1 < len(args) {
			envFile = args[i+1]
		} else if v, ok := strings.CutPrefix(arg, "-env="); ok {
			envFile = v
		}
	}

	base, err := config.Load(envFile)
	if err != nil {
		return Config{}, nil, err
	}

	if _, ok := os.LookupEnv(config.Prefix + "STORE"); !ok {
		base.Store = "sqlite"
	}

	if _, ok := os.LookupEnv(config.Prefix + "VAULT"); !ok {
		base.Vault = "journal"
	}

	cfg := Config{Config: *base, EnvFile: envFile, Timeout: time.Minute}

	fs.StringVar(&cfg.EnvFile, "env", cfg.EnvFile, "dotenv file to load")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "event store (memory|sqlite|mongodb)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "path to the sqlite event store")
	fs.StringVar(&cfg.Bus, "bus", cfg.Bus, "notification bus (local|nats|redis|kafka|gcp)")
	fs.StringVar(&cfg.Vault, "vault", cfg.Vault, "vault (memory|journal)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "timeout of a command, except watch")
	fs.BoolVar(&cfg.JSON, "json", false, "output JSON")

	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}

	return cfg, fs.Args(), nil
}

type command struct {
	name string
	run  func(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error
}

var commands = []command{
	{"create", runCreate},
	{"get", runGet},
	{"next-id", runNextID},
	{"rsvp", runRSVP},
	{"checkin", runCheckIn},
	{"claim", runClaim},
	{"finalize", runFinalize},
	{"attendee", runAttendee},
	{"balance", runBalance},
	{"audit", runAudit},
	{"watch", runWatch},
}

type client struct {
	rt   *engine.Runtime
	cfg  Config
	out  io.Writer
	now  domain.Clock
	json bool
}

// Run executes one command.
func Run(ctx context.Context, cfg Config, args []string, out, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}

	if errOut == nil {
		errOut = io.Discard
	}

	if len(args) == 0 {
		fmt.Fprint(errOut, usage)

		return ErrUsage
	}

	var cmd *command

	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}

	if cmd == nil {
		fmt.Fprint(errOut, usage)

		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}

	if cmd.name != "watch" && cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rt, err := engine.Open(ctx, &cfg.Config, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err := rt.Close(); err != nil {
			fmt.Fprintf(errOut, "Error: close: %v\n", err)
		}
	}()

	c := &client{rt: rt, cfg: cfg, out: out, now: domain.SystemClock, json: cfg.JSON}
	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(errOut)

	return cmd.run(ctx, c, fs, args[1:])
}

func runCreate(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	var (
		organizer, beneficiary, deposit string
		deadline, start, end            string
	)

	fs.StringVar(&organizer, "organizer", "", "organizer address")
	fs.StringVar(&beneficiary, "beneficiary", "", "address receiving the forfeited deposits")
	fs.StringVar(&deposit, "deposit", "", "deposit in wei")
	fs.StringVar(&deadline, "rsvp-deadline", "", "RSVP deadline, RFC 3339 or +duration from now")
	fs.StringVar(&start, "checkin-start", "", "start of the check-in window, RFC 3339 or +duration")
	fs.StringVar(&end, "checkin-end", "", "end of the check-in window, RFC 3339 or +duration")

	if err := fs.Parse(args); err != nil {
		return err
	}

	p := registry.Params{}
	now := c.now()

	var err error
	if p.Deposit, err = domain.ParseAmount(deposit); err != nil {
		return fmt.Errorf("-deposit: %w", err)
	}

	if p.Beneficiary, err = domain.ParseIdentity(beneficiary); err != nil {
		return fmt.Errorf("-beneficiary: %w", err)
	}

	if p.RSVPDeadline, err = parseTime(deadline, now); err != nil {
		return fmt.Errorf("-rsvp-deadline: %w", err)
	}

	if p.CheckinStart, err = parseTime(start, now); err != nil {
		return fmt.Errorf("-checkin-start: %w", err)
	}

	if p.CheckinEnd, err = parseTime(end, now); err != nil {
		return fmt.Errorf("-checkin-end: %w", err)
	}

	org, err := domain.ParseIdentity(organizer)
	if err != nil {
		return fmt.Errorf("-organizer: %w", err)
	}

	id, err := c.rt.Registry.CreateEvent(ctx, org, p)
	if err != nil {
		return err
	}

	return c.print(map[string]domain.EventID{"eventId": id}, "created event %s\n", id)
}

func runGet(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "event ID")

	if err := fs.Parse(args); err != nil {
		return err
	}

	eventID, err := domain.ParseEventID(*id)
	if err != nil {
		return fmt.Errorf("-id: %w", err)
	}

	event, err := c.rt.Registry.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	return c.print(event, "event %s\n  organizer     %s\n  deposit       %s\n  rsvp deadline %s\n"+
		"  check-in      %s - %s\n  beneficiary   %s\n  rsvps         %d\n  check-ins     %d\n  finalized     %t\n",
		event.EventID, event.Organizer, event.Deposit, event.RSVPDeadline.Format(time.RFC3339),
		event.CheckinStart.Format(time.RFC3339), event.CheckinEnd.Format(time.RFC3339),
		event.Beneficiary, event.RSVPCount, event.CheckinCount, event.Finalized)
}

func runNextID(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := c.rt.Registry.NextEventID(ctx)
	if err != nil {
		return err
	}

	return c.print(map[string]domain.EventID{"nextEventId": id}, "%s\n", id)
}

func runRSVP(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "event ID")
	attendee := fs.String("attendee", "", "attendee address")
	payment := fs.String("payment", "", "payment in wei, must equal the deposit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	eventID, who, err := parseTarget(*id, "-attendee", *attendee)
	if err != nil {
		return err
	}

	amount, err := domain.ParseAmount(*payment)
	if err != nil {
		return fmt.Errorf("-payment: %w", err)
	}

	if err := c.rt.Escrow.RSVP(ctx, eventID, who, amount); err != nil {
		return err
	}

	return c.done("%s rsvped to event %s\n", who, eventID)
}

func runCheckIn(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "event ID")
	organizer := fs.String("organizer", "", "organizer address")
	attendee := fs.String("attendee", "", "attendee address")

	if err := fs.Parse(args); err != nil {
		return err
	}

	eventID, org, err := parseTarget(*id, "-organizer", *organizer)
	if err != nil {
		return err
	}

	who, err := domain.ParseIdentity(*attendee)
	if err != nil {
		return fmt.Errorf("-attendee: %w", err)
	}

	if err := c.rt.Escrow.CheckIn(ctx, eventID, org, who); err != nil {
		return err
	}

	return c.done("%s checked in to event %s\n", who, eventID)
}

func runClaim(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "event ID")
	attendee := fs.String("attendee", "", "attendee address")

	if err := fs.Parse(args); err != nil {
		return err
	}

	eventID, who, err := parseTarget(*id, "-attendee", *attendee)
	if err != nil {
		return err
	}

	if err := c.rt.Escrow.ClaimRefund(ctx, eventID, who); err != nil {
		return err
	}

	return c.done("%s refunded from event %s\n", who, eventID)
}

func runFinalize(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "event ID")
	organizer := fs.String("organizer", "", "organizer address")

	if err := fs.Parse(args); err != nil {
		return err
	}

	eventID, org, err := parseTarget(*id, "-organizer", *organizer)
	if err != nil {
		return err
	}

	if err := c.rt.Escrow.Finalize(ctx, eventID, org); err != nil {
		return err
	}

	return c.done("event %s finalized\n", eventID)
}

func runAttendee(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "event ID")
	attendee := fs.String("attendee", "", "attendee address")

	if err := fs.Parse(args); err != nil {
		return err
	}

	eventID, who, err := parseTarget(*id, "-attendee", *attendee)
	if err != nil {
		return err
	}

	state, err := c.rt.Escrow.Attendee(ctx, eventID, who)
	if err != nil {
		return err
	}

	return c.print(state, "rsvped %t, checked in %t, refunded %t\n",
		state.HasRSVPed, state.CheckedIn, state.Refunded)
}

func runBalance(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "event ID")

	if err := fs.Parse(args); err != nil {
		return err
	}

	eventID, err := domain.ParseEventID(*id)
	if err != nil {
		return fmt.Errorf("-id: %w", err)
	}

	b, err := c.rt.Escrow.Balance(ctx, eventID)
	if err != nil {
		return err
	}

	return c.print(b, "deposited %s, custodied %s, refunded %s, swept %s\n",
		b.Deposited, b.Custodied, b.Refunded, b.Swept)
}

// ErrViolations is returned by audit when a check failed.
var ErrViolations = errors.New("reconciliation failed")

func runAudit(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := c.rt.Auditor.Run(ctx)
	if err != nil {
		return err
	}

	if c.json {
		if err := c.print(report, ""); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(c.out, "%d events, %s custodied, vault holds %s\n",
			report.Events, report.Custodied, report.VaultCustody)

		for _, v := range report.Violations {
			fmt.Fprintf(c.out, "  event %s: %s\n", v.EventID, v.Reason)
		}
	}

	if !report.OK() {
		return ErrViolations
	}

	return nil
}

func runWatch(ctx context.Context, c *client, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}

	printer := eh.EventHandlerFunc(func(ctx context.Context, event eh.Event) error {
		if c.json {
			return c.print(map[string]interface{}{
				"type":      event.EventType(),
				"timestamp": event.Timestamp(),
				"data":      event.Data(),
			}, "")
		}

		_, err := fmt.Fprintf(c.out, "%s %s\n", event.Timestamp().Format(time.RFC3339), domain.Describe(event))

		return err
	})

	// Every watcher gets all notifications.
	if err := c.rt.Bus.AddHandler(ctx, registry.Matcher(), observer.Middleware(printer)); err != nil {
		return err
	}

	<-ctx.Done()

	return nil
}

func (c *client) print(v interface{}, format string, args ...interface{}) error {
	if c.json {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	}

	_, err := fmt.Fprintf(c.out, format, args...)

	return err
}

func (c *client) done(format string, args ...interface{}) error {
	return c.print(map[string]bool{"ok": true}, format, args...)
}

func parseTarget(id, flagName, who string) (domain.EventID, domain.Identity, error) {
	eventID, err := domain.ParseEventID(id)
	if err != nil {
		return 0, domain.Identity{}, fmt.Errorf("-id: %w", err)
	}

	identity, err := domain.ParseIdentity(who)
	if err != nil {
		return 0, domain.Identity{}, fmt.Errorf("%s: %w", flagName, err)
	}

	return eventID, identity, nil
}

// parseTime parses RFC 3339 or a duration from now prefixed with +.
func parseTime(s string, now time.Time) (time.Time, error) {
	if d, ok := strings.CutPrefix(s, "+"); ok {
		dur, err := time.ParseDuration(d)
		if err != nil {
			return time.Time{}, err
		}

		return now.Add(dur), nil
	}

	return time.Parse(time.RFC3339, s)
}
