package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/platinummonkey/assetgate/pkg/admin"
	"github.com/platinummonkey/assetgate/pkg/authz"
)

// Env is what commands operate on
type Env struct {
	Admin      *admin.Service
	Authorizer *authz.Authorizer
	Out        io.Writer
}

func (e *Env) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "assetgate-admin",
		Description: "assetgate - entitlement administration CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("assetgate-admin", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newRevokeCredentialCommand(env),
		newSuspendCommand(env),
		newReactivateCommand(env),
		newDeactivateCommand(env),
		newGrantCommand(env),
		newRevokeCommand(env),
		newRecordPaymentCommand(env),
		newSetQuotaCommand(env),
		newQuotaCommand(env),
		newEvictCommand(env),
		newCheckCommand(env),
	} {
		cmd.Flags.SetOutput(env.out())
		root.Subcommands[cmd.Name] = cmd
	}
	root.Flags.SetOutput(env.out())

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.Flags.Output()
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-18s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func newCommand(name, description string) *Command {
	return &Command{
		Name:        name,
		Description: description,
		Flags:       flag.NewFlagSet(name, flag.ContinueOnError),
	}
}

func required(flags map[string]string) error {
	var missing []string
	for name, value := range flags {
		if value == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
}
