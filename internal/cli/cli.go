// Package cli implements the gqltransform command.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ShadowCat567/amplify-category-api/internal/config"
	"github.com/ShadowCat567/amplify-category-api/internal/watch"
	"github.com/ShadowCat567/amplify-category-api/plugin"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

// Version is set at build time.
var Version = "dev"

// CLI holds the state shared by the commands.
type CLI struct {
	Fs  afero.Fs
	Out io.Writer
	Err io.Writer

	viper    *viper.Viper
	settings *config.Settings
	logger   *slog.Logger
}

// New returns a CLI reading from fs.
func New(fs afero.Fs, out, errOut io.Writer) *CLI {
	return &CLI{Fs: fs, Out: out, Err: errOut, viper: config.New(fs), logger: slog.New(slog.DiscardHandler)}
}

// NewRootCommand returns the root command with every subcommand added.
func (c *CLI) NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gqltransform",
		Short:         "Compile annotated GraphQL schemas into AppSync deployment resources",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetOut(c.Out)
	cmd.SetErr(c.Err)

	flags := cmd.PersistentFlags()
	flags.StringP(config.KeySchema, "s", "schema.graphql", "Schema file or directory of .graphql files")
	flags.StringP(config.KeyConfig, "c", "", "Transform configuration file (YAML)")
	flags.StringP(config.KeyOutDir, "o", "build", "Output directory")
	flags.String(config.KeyFormat, "json", "Stack encoding. One of: (json | yaml | msgpack)")
	flags.String(config.KeyOverrides, "resolvers", "Directory of resolver overrides")
	flags.String(config.KeySQLStatements, "sql-statements", "Directory of statements referenced by @sql")
	flags.String(config.KeyLogFormat, "text", "Log format. One of: (text | json)")
	flags.String(config.KeyLogLevel, "info", "Log level. One of: (debug | info | warn | error | silent)")
	flags.Int(config.KeyWorkers, 0, "Parallel file writes (0 uses GOMAXPROCS)")
	_ = c.viper.BindPFlags(flags)

	cmd.AddCommand(
		c.newCompileCommand(),
		c.newValidateCommand(),
		c.newWatchCommand(),
		c.newVersionCommand(),
	)
	return cmd
}

func (c *CLI) setup() error {
	if err := config.LoadEnv(c.Fs); err != nil {
		return err
	}
	s, err := config.Load(c.viper)
	if err != nil {
		return err
	}
	logger, err := NewLogger(c.Err, s.LogFormat, s.LogLevel)
	if err != nil {
		return err
	}
	c.settings, c.logger = s, logger
	return nil
}

func (c *CLI) success(format string, args ...any) {
	fmt.Fprintln(c.Out, color.GreenString("✔ ")+fmt.Sprintf(format, args...))
}

// newTransform returns a transform with a fresh set of plugins.
func (c *CLI) newTransform() (*transformer.GraphQLTransform, error) {
	cfg, err := config.TransformConfig(c.Fs, c.settings)
	if err != nil {
		return nil, err
	}
	cfg.Plugins = plugin.Defaults()
	cfg.Logger = c.logger
	return transformer.NewFromConfig(cfg)
}

func (c *CLI) compile(ctx context.Context) error {
	sdl, err := config.ReadSchema(c.Fs, c.settings.Schema)
	if err != nil {
		return err
	}
	tr, err := c.newTransform()
	if err != nil {
		return err
	}
	out, err := tr.Transform(sdl)
	if err != nil {
		return err
	}
	w := transformer.NewBundleWriter(c.Fs, c.settings.OutDir, c.settings.Format).WithWorkers(c.settings.Workers)
	if err := w.Write(ctx, out); err != nil {
		return err
	}
	m := w.Metrics()
	c.logger.Debug("bundle written", "files", m.FilesWritten, "bytes", m.TotalBytes)
	c.success("compiled %d stacks and %d templates into %s", len(out.Stacks), len(out.Resolvers), c.settings.OutDir)
	for _, slot := range out.UserOverriddenSlots {
		c.logger.Info("override applied", "slot", slot)
	}
	return nil
}

func (c *CLI) newCompileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Compile the schema and write the deployment bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.compile(cmd.Context())
		},
	}
}

func (c *CLI) newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the schema and its directives without writing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sdl, err := config.ReadSchema(c.Fs, c.settings.Schema)
			if err != nil {
				return err
			}
			tr, err := c.newTransform()
			if err != nil {
				return err
			}
			if _, err := tr.Transform(sdl); err != nil {
				return err
			}
			c.success("%s is valid", c.settings.Schema)
			return nil
		},
	}
}

func (c *CLI) newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Recompile whenever the schema, configuration or overrides change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := watch.New(config.WatchPaths(c.Fs, c.settings), c.compile, watch.WithLogger(c.logger))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Out, color.CyanString("watching for changes, press Ctrl+C to stop"))
			return w.Run(cmd.Context())
		},
	}
}

func (c *CLI) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(c.Out, "gqltransform %s\n", Version)
		},
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		color.NoColor = true
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c := New(afero.NewOsFs(), os.Stdout, os.Stderr)
	if err := c.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("✘ ")+err.Error())
		return 1
	}
	return 0
}
