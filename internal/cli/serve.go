package cli

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refserver"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string

	listener net.Listener // set by tests to serve on a pre-bound port
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored reference data over HTTP",
		Long: `Serve the reference data held in the store over HTTP, the way a
backend serves option lists to the form.

Routes:
  GET /api/*      stored body for the endpoint and canonical query
  GET /healthz    store health
  GET /metrics    Prometheus metrics

The server stops gracefully on SIGINT or SIGTERM.

Examples:
  formsync serve --db ./formsync.db --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	addr := opts.Addr
	if addr == "" {
		addr = opts.settings().Server.Addr
	}

	st, err := openExistingStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := opts.logger()
	srv := refserver.NewServer(addr, st, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.listener != nil {
		err = srv.Serve(ctx, opts.listener)
	} else {
		err = srv.ListenAndServe(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "reference service failed", err)
	}
	return nil
}
