// Package clitest runs CLI commands against an in-memory application.
package clitest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/circulum/adapter/cli"
	"github.com/felixgeelhaar/circulum/internal/app"
	"github.com/felixgeelhaar/circulum/pkg/config"
)

// Setup wires an in-memory container, installs it as the CLI application
// and removes it when the test ends.
func Setup(t *testing.T) *app.Container {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "unused.db"))
	t.Setenv("GATEWAY_URL", "")
	t.Setenv("LEDGER_DEFAULT_BALANCE", "1000")

	cfg, err := config.Load()
	require.NoError(t, err)
	c, err := app.NewInMemoryContainer(cfg, nil)
	require.NoError(t, err)

	cli.SetApp(cli.NewAppFromContainer(c))
	t.Cleanup(func() { cli.SetApp(nil) })
	return c
}

// Execute runs the root command with args and returns everything it printed.
// Flags are reset first so values do not leak between runs.
func Execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := cli.Root()
	resetFlags(root)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetFlags(child)
	}
}
