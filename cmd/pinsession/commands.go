package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pinsession/pinsession/internal/config"
	"github.com/pinsession/pinsession/internal/daemon"
	"github.com/pinsession/pinsession/internal/security"
	"github.com/pinsession/pinsession/internal/session"
	"github.com/pinsession/pinsession/internal/storage"
)

// defaultRetainInterval is used by retain when no interval is configured.
const defaultRetainInterval = 24 * time.Hour

func cmdList(ctx context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return usageError("usage: pinsession list")
	}
	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.Entries(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.stdout, "No stored sessions.")
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tUPDATED\tAGE")
	for _, e := range entries {
		t := time.UnixMilli(e.UpdatedAt)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.AccountID, t.Format(time.RFC3339), humanize.RelTime(t, now, "ago", "from now"))
	}
	return tw.Flush()
}

func cmdShow(ctx context.Context, c *cli, args []string) error {
	reveal := false
	var account string
	for _, a := range args {
		switch {
		case a == "--reveal":
			reveal = true
		case account == "":
			account = a
		default:
			return usageError("usage: pinsession show <account> [--reveal]")
		}
	}
	if account == "" {
		return usageError("usage: pinsession show <account> [--reveal]")
	}

	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.Lookup(ctx, account)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "Account: %s\n", account)
	fmt.Fprintf(c.stdout, "Status:  %s\n", res.Status)
	switch res.Status {
	case storage.NotFound:
		return nil
	case storage.Corrupt:
		fmt.Fprintf(c.stdout, "Updated: %s\n", formatUpdated(res.UpdatedAt))
		fmt.Fprintf(c.stdout, "Reason:  %s\n", res.Reason)
		return nil
	}
	fmt.Fprintf(c.stdout, "Updated: %s\n", formatUpdated(res.UpdatedAt))

	cookies, err := session.DecodeCookies(res.Artifact)
	if err != nil {
		fmt.Fprintf(c.stdout, "Artifact is not a cookie list (%d bytes).\n", len(res.Artifact))
		return nil
	}

	now := time.Now()
	live := session.Live(cookies, now)
	fmt.Fprintf(c.stdout, "Cookies: %d (%d expired)\n\n", len(cookies), len(cookies)-len(live))

	tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDOMAIN\tEXPIRES\tVALUE")
	for _, ck := range cookies {
		expires := "session"
		if t, ok := ck.ExpiresAt(); ok {
			expires = humanize.RelTime(t, now, "ago", "from now")
		}
		value := ck.Value
		if !reveal {
			value = security.MaskSecret(value, 3)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ck.Name, ck.Domain, expires, value)
	}
	return tw.Flush()
}

func cmdImport(ctx context.Context, c *cli, args []string) error {
	if len(args) != 2 {
		return usageError("usage: pinsession import <account> <file|->")
	}
	account, path := args[0], args[1]

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(c.in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := session.DecodeCookies(data); err != nil {
		return fmt.Errorf("%s is not a JSON cookie array: %w", path, err)
	}

	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Save(ctx, account, json.RawMessage(data)); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Stored session for %s.\n", account)
	return nil
}

func cmdDelete(ctx context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return usageError("usage: pinsession delete <account>")
	}
	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Deleted session for %s.\n", args[0])
	return nil
}

func cmdCleanup(ctx context.Context, c *cli, args []string) error {
	days := c.cfg.RetentionDays
	switch len(args) {
	case 0:
	case 1:
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return usageError(fmt.Sprintf("invalid days %q", args[0]))
		}
		days = n
	default:
		return usageError("usage: pinsession cleanup [days]")
	}
	if days <= 0 {
		days = storage.DefaultRetentionDays
	}

	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	removed, err := s.Cleanup(ctx, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Removed %d session(s) older than %d days.\n", removed, days)
	return nil
}

func cmdStats(ctx context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return usageError("usage: pinsession stats")
	}
	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Backend: %s\n", c.cfg.Backend)
	fmt.Fprintf(c.stdout, "Entries: %d\n", st.EntryCount)
	fmt.Fprintf(c.stdout, "Size:    %s (%d bytes)\n", humanize.IBytes(uint64(st.StorageSizeBytes)), st.StorageSizeBytes)
	return nil
}

func cmdMigrate(ctx context.Context, c *cli, args []string) error {
	if len(args) != 2 {
		return usageError("usage: pinsession migrate <from> <to>")
	}
	if args[0] == args[1] {
		return usageError("source and destination backends must differ")
	}

	src, err := config.OpenBackend(ctx, args[0], c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer src.Close()
	dst, err := config.OpenBackend(ctx, args[1], c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("open %s: %w", args[1], err)
	}
	defer dst.Close()

	n, err := storage.Migrate(ctx, dst, src)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Migrated %d session(s) from %s to %s.\n", n, args[0], args[1])
	return nil
}

func cmdRetain(ctx context.Context, c *cli, args []string) error {
	pf := daemon.NewPIDFile(c.cfg.Dir, "retain")
	switch {
	case len(args) == 1 && args[0] == "--stop":
		pid, err := pf.Stop()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Sent stop signal to retain (pid=%d).\n", pid)
		return nil
	case len(args) != 0:
		return usageError("usage: pinsession retain [--stop]")
	}

	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := pf.Guard(); err != nil {
		return err
	}
	defer pf.Remove()

	interval := c.cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultRetainInterval
	}
	c.logger.Info("retention started", "interval", interval.String(), "max_age_days", c.cfg.RetentionDays, "pid_file", pf.Path())

	sched := &storage.CleanupScheduler{
		Store:      s,
		MaxAgeDays: c.cfg.RetentionDays,
		Interval:   interval,
	}
	sched.Run(ctx)

	c.logger.Info("retention stopped")
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func formatUpdated(ms int64) string {
	t := time.UnixMilli(ms)
	return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), humanize.Time(t))
}
