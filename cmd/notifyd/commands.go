package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/notifyd/internal/storage"
	"github.com/mattjoyce/notifyd/internal/templates"
)

// openStore opens the configured database without applying migrations.
func (o *rootOptions) openStore(cmd *cobra.Command) (storage.Store, error) {
	cfg, err := o.loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	dbCfg := cfg.Database
	dbCfg.Migrate = false
	return storage.Open(cmd.Context(), dbCfg)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	})

	migrate.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			states, err := st.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range states {
				status := "pending"
				if s.Applied {
					status = "applied " + s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%05d  %-32s %s\n", s.Version, s.Source, status)
			}
			return nil
		},
	})

	return migrate
}

func newTemplatesCmd(opts *rootOptions) *cobra.Command {
	tpl := &cobra.Command{
		Use:   "templates",
		Short: "Inspect and edit stored email templates",
	}
	tpl.AddCommand(newTemplatesListCmd(opts), newTemplatesRenderCmd(opts), newTemplatesPutCmd(opts))
	return tpl
}

// loadEngine compiles every stored template and partial.
func loadEngine(ctx context.Context, st storage.Store) (*templates.Engine, error) {
	engine := templates.NewEngine(nil)
	if err := engine.LoadFrom(ctx, st); err != nil {
		return nil, err
	}
	return engine, nil
}

func newTemplatesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored templates with their content fingerprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			engine, err := loadEngine(cmd.Context(), st)
			if err != nil {
				return err
			}
			for _, name := range engine.Names() {
				fp, _ := engine.Fingerprint(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", name, fp)
			}
			return nil
		},
	}
}

func newTemplatesRenderCmd(opts *rootOptions) *cobra.Command {
	var dataPath string
	cmd := &cobra.Command{
		Use:   "render <name>",
		Short: "Render a stored template against a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]any{}
			if dataPath != "" {
				raw, err := os.ReadFile(dataPath)
				if err != nil {
					return fmt.Errorf("read data: %w", err)
				}
				if err := json.Unmarshal(raw, &data); err != nil {
					return fmt.Errorf("parse data: %w", err)
				}
			}

			st, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			engine, err := loadEngine(cmd.Context(), st)
			if err != nil {
				return err
			}
			out, err := engine.Render(args[0], data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "JSON file used as template data")
	return cmd
}

func newTemplatesPutCmd(opts *rootOptions) *cobra.Command {
	var (
		filePath string
		partial  bool
	)
	cmd := &cobra.Command{
		Use:   "put <name>",
		Short: "Create or replace a stored template or partial",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			content, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}

			st, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			// Compile against the stored partials so a broken template is
			// never written.
			engine, err := loadEngine(cmd.Context(), st)
			if err != nil {
				return err
			}
			if partial {
				if err := engine.RegisterPartial(name, string(content)); err != nil {
					return err
				}
				err = st.UpsertPartial(cmd.Context(), name, string(content))
			} else {
				if err := engine.Register(name, string(content)); err != nil {
					return err
				}
				err = st.UpsertTemplate(cmd.Context(), name, string(content))
			}
			if err != nil {
				return err
			}

			kind := "template"
			if partial {
				kind = "partial"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s %s (%s)\n", kind, name, templates.Fingerprint(string(content)))
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "Template source file")
	cmd.Flags().BoolVar(&partial, "partial", false, "Store as a partial")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
