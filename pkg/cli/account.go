package cli

import (
	"context"
	"fmt"
)

func newRevokeCredentialCommand(env *Env) *Command {
	cmd := newCommand("revoke-credential", "Revoke a credential by token or lookup hash")
	token := cmd.Flags.String("token", "", "Raw credential token")
	hash := cmd.Flags.String("hash", "", "Credential lookup hash (sha256 hex)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if (*token == "") == (*hash == "") {
			return fmt.Errorf("exactly one of -token or -hash is required")
		}

		var err error
		if *token != "" {
			_, err = env.Admin.RevokeCredential(ctx, *token)
		} else {
			_, err = env.Admin.RevokeCredentialByHash(ctx, *hash)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(env.out(), "credential revoked")
		return nil
	}
	return cmd
}

func newSuspendCommand(env *Env) *Command {
	cmd := newCommand("suspend", "Suspend an account")
	account := cmd.Flags.String("account", "", "Account ID")
	reason := cmd.Flags.String("reason", "", "Reason shown to callers")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"account": *account}); err != nil {
			return err
		}
		if err := env.Admin.SuspendAccount(ctx, *account, *reason); err != nil {
			return err
		}
		fmt.Fprintf(env.out(), "account %s suspended\n", *account)
		return nil
	}
	return cmd
}

func newReactivateCommand(env *Env) *Command {
	cmd := newCommand("reactivate", "Return an account to active")
	account := cmd.Flags.String("account", "", "Account ID")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"account": *account}); err != nil {
			return err
		}
		if err := env.Admin.ReactivateAccount(ctx, *account); err != nil {
			return err
		}
		fmt.Fprintf(env.out(), "account %s active\n", *account)
		return nil
	}
	return cmd
}

func newDeactivateCommand(env *Env) *Command {
	cmd := newCommand("deactivate", "Mark an account inactive")
	account := cmd.Flags.String("account", "", "Account ID")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"account": *account}); err != nil {
			return err
		}
		if err := env.Admin.DeactivateAccount(ctx, *account); err != nil {
			return err
		}
		fmt.Fprintf(env.out(), "account %s inactive\n", *account)
		return nil
	}
	return cmd
}
