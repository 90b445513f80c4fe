package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/preceeder/go.insights/api"
	"github.com/preceeder/go.insights/config"
	"github.com/preceeder/go.insights/datasource"
	"github.com/preceeder/go.insights/embed"
	"github.com/preceeder/go.insights/insights"
	"github.com/preceeder/go.insights/logging"
	"github.com/preceeder/go.insights/patch"
	"github.com/preceeder/go.insights/queryfield"
	"github.com/preceeder/go.insights/store"
)

type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "insights",
		Short:         "Query field builder and report runner over MySQL and SQLite",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Path(a.configPath))
			if err != nil {
				return err
			}
			a.cfg = cfg
			return logging.Setup(cfg.Log.Level, cfg.Log.Format)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $"+config.EnvConfig+")")

	root.AddCommand(a.serveCmd(), a.renderCmd(), a.migrateCmd(), a.testConnectionCmd())
	return root
}

// openStore connects the document store and brings it up to date.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	client, err := datasource.Open(ctx, a.cfg.Store)
	if err != nil {
		return nil, err
	}
	st := store.New(client)
	if err := st.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if _, err := patch.NewRunner(st, patch.Builtin()...).Run(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return st, nil
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sources, err := datasource.OpenRegistry(ctx, a.cfg.DataSources)
			if err != nil {
				return err
			}
			defer sources.Close()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Client().Close()

			var signer *embed.Signer
			if a.cfg.Embed.Secret != "" {
				if signer, err = embed.NewSigner(a.cfg.Embed); err != nil {
					return err
				}
			}

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return api.NewServer(addr, insights.NewService(sources, st, signer)).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) renderCmd() *cobra.Command {
	var (
		source   string
		spec     queryfield.Spec
		agg      string
		coalesce string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a query field against a data source schema",
		Example: "  insights render --source shop --field Sales.amount --aggregation Sum --alias total\n" +
			"  insights render --source shop --field Sales.region --coalesce \"'n/a'\"",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := a.source(source)
			if err != nil {
				return err
			}
			cfg.Binlog = nil
			sources := datasource.NewRegistry()
			client, err := datasource.Open(ctx, cfg)
			if err != nil {
				return err
			}
			if err := sources.Add(ctx, client); err != nil {
				_ = client.Close()
				return err
			}
			defer sources.Close()

			spec.Aggregation = queryfield.Aggregation(agg)
			if cmd.Flags().Changed("coalesce") {
				var v any
				if err := yaml.Unmarshal([]byte(coalesce), &v); err != nil {
					return errors.Wrap(err, "parse --coalesce")
				}
				spec.Coalesce = &queryfield.Coalesce{Value: v}
			}

			record, err := insights.NewService(sources, nil, nil).RenderField(ctx, cfg.Name, spec)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return errors.WithStack(err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "data source name (default: the only configured one)")
	cmd.Flags().StringVar(&spec.Field, "field", "", `field reference "table.field"`)
	cmd.Flags().StringVar(&agg, "aggregation", "", "Sum | Count | CountDistinct | Avg | Min | Max")
	cmd.Flags().StringVar(&coalesce, "coalesce", "", "default value for NULL, as a YAML scalar")
	cmd.Flags().StringVar(&spec.Alias, "alias", "", "output name")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

// source picks the named data source, or the only one configured.
func (a *app) source(name string) (datasource.Config, error) {
	if name == "" {
		if len(a.cfg.DataSources) != 1 {
			return datasource.Config{}, errors.New("--source is required when several data sources are configured")
		}
		return a.cfg.DataSources[0], nil
	}
	for _, ds := range a.cfg.DataSources {
		if ds.Name == name {
			return ds, nil
		}
	}
	return datasource.Config{}, errors.Wrap(datasource.ErrUnknownSource, name)
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the document table and apply pending patches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Client().Close()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "store is up to date")
			return err
		},
	}
}

func (a *app) testConnectionCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that data sources are reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			configs := a.cfg.DataSources
			if source != "" {
				cfg, err := a.source(source)
				if err != nil {
					return err
				}
				configs = []datasource.Config{cfg}
			}

			failed := 0
			for _, cfg := range configs {
				err := testConnection(ctx, cfg)
				if err != nil {
					failed++
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: FAILED %v\n", cfg.Name, err)
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfg.Name)
			}
			if failed > 0 {
				return errors.Errorf("%d of %d data sources unreachable", failed, len(configs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only test this data source")
	return cmd
}

func testConnection(ctx context.Context, cfg datasource.Config) error {
	client, err := datasource.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.TestConnection(ctx)
}
