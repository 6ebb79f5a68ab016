package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewctl/crewctl/internal/auth"
	"github.com/crewctl/crewctl/internal/control"
	"github.com/crewctl/crewctl/internal/store"
)

const dialTimeout = 5 * time.Second

func openStore(cmd *cobra.Command) (*store.Store, error) {
	dir, _ := cmd.Flags().GetString("state-dir")
	return store.New(dir)
}

func newAuthManager(cmd *cobra.Command) (*auth.Manager, error) {
	s, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	return auth.NewManager(s, auth.DefaultEndpoints())
}

// dialOperator connects to a running `crewctl serve` instance.
func dialOperator(cmd *cobra.Command) (*control.Client, error) {
	s, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout)
	defer cancel()

	c, err := control.DialOperator(ctx, control.SocketPath(s.Root()))
	if err != nil {
		return nil, fmt.Errorf("is `crewctl serve` running? %w", err)
	}
	return c, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
