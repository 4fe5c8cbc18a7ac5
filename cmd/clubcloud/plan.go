package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rcourtman/clubcloud/internal/cloudcp"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

type registryFlags struct {
	dataDir string
	driver  string
	dsn     string
}

func (f *registryFlags) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.dataDir, "data-dir", envOr("CC_DATA_DIR", "/data"), "control plane data directory")
	cmd.PersistentFlags().StringVar(&f.driver, "db-driver", envOr("CC_DB_DRIVER", string(registry.DialectSQLite)), "registry driver (sqlite or postgres)")
	cmd.PersistentFlags().StringVar(&f.dsn, "database-url", os.Getenv("CC_DATABASE_URL"), "postgres connection string")
}

func (f *registryFlags) open() (*registry.Registry, error) {
	cfg := &cloudcp.CPConfig{DataDir: f.dataDir}
	if err := os.MkdirAll(cfg.ControlPlaneDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create control-plane dir: %w", err)
	}
	return registry.Open(registry.Config{
		Driver: registry.Dialect(strings.ToLower(f.driver)),
		Dir:    cfg.ControlPlaneDir(),
		DSN:    f.dsn,
	})
}

func newPlanCmd() *cobra.Command {
	var flags registryFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage subscription plans offered at signup",
	}
	flags.bind(cmd)
	cmd.AddCommand(newPlanUpsertCmd(&flags), newPlanListCmd(&flags))
	return cmd
}

func newPlanUpsertCmd(flags *registryFlags) *cobra.Command {
	var (
		name     string
		priceID  string
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "upsert <plan-id>",
		Short: "Create or update a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := flags.open()
			if err != nil {
				return err
			}
			defer reg.Close()

			p := &registry.Plan{
				ID:            strings.TrimSpace(args[0]),
				Name:          strings.TrimSpace(name),
				StripePriceID: strings.TrimSpace(priceID),
				Active:        !inactive,
			}
			if p.Name == "" {
				p.Name = p.ID
			}
			if err := reg.UpsertPlan(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan %s saved (active=%t)\n", p.ID, p.Active)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&priceID, "price", "", "Stripe price ID")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "hide the plan from new signups")
	return cmd
}

func newPlanListCmd(flags *registryFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := flags.open()
			if err != nil {
				return err
			}
			defer reg.Close()

			plans, err := reg.ListPlans(cmd.Context(), !all)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPRICE\tACTIVE")
			for _, p := range plans {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", p.ID, p.Name, p.StripePriceID, p.Active)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive plans")
	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
