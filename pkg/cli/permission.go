package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/assetgate/pkg/admin"
)

func newGrantCommand(env *Env) *Command {
	cmd := newCommand("grant", "Grant an account access to a category")
	account := cmd.Flags.String("account", "", "Account ID")
	category := cmd.Flags.String("category", "", "Category ID")
	paid := cmd.Flags.Bool("paid", false, "Mark the entitlement as paid")
	amount := cmd.Flags.String("amount", "", "Amount paid, e.g. 4.99")
	expires := cmd.Flags.String("expires", "", "Expiry as RFC3339 time or a duration from now, e.g. 720h")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"account": *account, "category": *category}); err != nil {
			return err
		}

		opts := admin.GrantOptions{Paid: *paid}
		if *amount != "" {
			d, err := decimal.NewFromString(*amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", *amount, err)
			}
			opts.PaidAmount = &d
			opts.Paid = true
		}
		if *expires != "" {
			at, err := parseExpiry(*expires, time.Now())
			if err != nil {
				return err
			}
			opts.ExpiresAt = &at
		}

		if err := env.Admin.GrantPermission(ctx, *account, *category, opts); err != nil {
			return err
		}
		fmt.Fprintf(env.out(), "account %s granted %s\n", *account, *category)
		return nil
	}
	return cmd
}

func newRevokeCommand(env *Env) *Command {
	cmd := newCommand("revoke", "Revoke an account's access to a category")
	account := cmd.Flags.String("account", "", "Account ID")
	category := cmd.Flags.String("category", "", "Category ID")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"account": *account, "category": *category}); err != nil {
			return err
		}
		if err := env.Admin.RevokePermission(ctx, *account, *category); err != nil {
			return err
		}
		fmt.Fprintf(env.out(), "account %s no longer holds %s\n", *account, *category)
		return nil
	}
	return cmd
}

func newRecordPaymentCommand(env *Env) *Command {
	cmd := newCommand("record-payment", "Mark an existing entitlement as paid")
	account := cmd.Flags.String("account", "", "Account ID")
	category := cmd.Flags.String("category", "", "Category ID")
	amount := cmd.Flags.String("amount", "", "Amount paid, e.g. 4.99")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"account": *account, "category": *category, "amount": *amount}); err != nil {
			return err
		}
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", *amount, err)
		}
		if err := env.Admin.RecordPayment(ctx, *account, *category, d); err != nil {
			return err
		}
		fmt.Fprintf(env.out(), "payment of %s recorded for %s/%s\n", d.String(), *account, *category)
		return nil
	}
	return cmd
}

// parseExpiry accepts an RFC3339 timestamp or a positive duration relative to now
func parseExpiry(value string, now time.Time) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339, value); err == nil {
		return at, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid expiry %q: want RFC3339 or a positive duration", value)
	}
	return now.Add(d), nil
}
