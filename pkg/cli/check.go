package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/platinummonkey/assetgate/pkg/auth"
	"github.com/platinummonkey/assetgate/pkg/authz"
)

// ErrDenied is returned by check when the request would be refused
var ErrDenied = errors.New("request would be denied")

func newCheckCommand(env *Env) *Command {
	cmd := newCommand("check", "Evaluate a credential against a resource without consuming quota")
	token := cmd.Flags.String("token", "", "Raw credential token")
	resource := cmd.Flags.String("resource", "", "Resource ID")
	scope := cmd.Flags.String("scope", "", "Scope the request must hold")
	units := cmd.Flags.Int64("units", 0, "Quota units the request would consume")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"token": *token, "resource": *resource}); err != nil {
			return err
		}

		result := env.Authorizer.AuthorizeRequest(ctx, authz.Request{
			Credential:    *token,
			ResourceID:    *resource,
			RequiredScope: auth.Scope(*scope),
			Units:         *units,
			DryRun:        true,
		})
		if err := printJSON(env.out(), result); err != nil {
			return err
		}
		if result.Err != nil {
			return fmt.Errorf("%w: %s", ErrDenied, result.Err.Kind)
		}
		return nil
	}
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
