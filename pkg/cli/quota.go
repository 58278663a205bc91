package cli

import (
	"context"
	"fmt"
	"strconv"
)

func newSetQuotaCommand(env *Env) *Command {
	cmd := newCommand("set-quota", "Change an account's quota limit (0 = unlimited)")
	account := cmd.Flags.String("account", "", "Account ID")
	limit := cmd.Flags.String("limit", "", "New limit")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"account": *account, "limit": *limit}); err != nil {
			return err
		}
		n, err := strconv.ParseInt(*limit, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid limit %q: %w", *limit, err)
		}
		if err := env.Admin.SetQuotaLimit(ctx, *account, n); err != nil {
			return err
		}
		fmt.Fprintf(env.out(), "account %s quota limit set to %d\n", *account, n)
		return nil
	}
	return cmd
}

func newQuotaCommand(env *Env) *Command {
	cmd := newCommand("quota", "Show an account's quota usage")
	account := cmd.Flags.String("account", "", "Account ID")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"account": *account}); err != nil {
			return err
		}
		q, err := env.Admin.Quota(ctx, *account)
		if err != nil {
			return err
		}
		return printJSON(env.out(), q)
	}
	return cmd
}

func newEvictCommand(env *Env) *Command {
	cmd := newCommand("evict", "Drop cached catalogue entries after a catalogue change")
	category := cmd.Flags.String("category", "", "Category ID")
	resource := cmd.Flags.String("resource", "", "Resource ID")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *category == "" && *resource == "" {
			return fmt.Errorf("one of -category or -resource is required")
		}
		if *category != "" {
			if err := env.Admin.EvictCategory(ctx, *category); err != nil {
				return err
			}
		}
		if *resource != "" {
			if err := env.Admin.EvictResource(ctx, *resource); err != nil {
				return err
			}
		}
		fmt.Fprintln(env.out(), "evicted")
		return nil
	}
	return cmd
}
