// Package cli implements the douyin command line using Cobra.
package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rizkirmdhn/dyproxy/internal/common/config"
	"github.com/rizkirmdhn/dyproxy/internal/common/logger"
	"github.com/rizkirmdhn/dyproxy/internal/douyin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app carries what the subcommands share once the config is loaded.
type app struct {
	cfg        *config.Config
	log        *logrus.Logger
	client     *http.Client
	loadConfig func() (*config.Config, error)
	debug      bool
}

type Option func(*app)

// WithConfig skips config.Load and uses cfg instead.
func WithConfig(cfg *config.Config) Option {
	return func(a *app) {
		a.loadConfig = func() (*config.Config, error) { return cfg, nil }
	}
}

// WithHTTPClient sets the client used for resolution and downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(a *app) {
		a.client = c
	}
}

// NewRootCommand builds the douyin command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{
		client:     http.DefaultClient,
		loadConfig: config.Load,
	}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "douyin",
		Short: "Resolve Douyin share links to watermark-free videos",
		Long: `douyin extracts the share link from a pasted share text, resolves it
to the watermark-free video URL and optionally downloads the file.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().BoolVarP(&a.debug, "debug", "x", false, "Debug logging to stderr")

	root.AddCommand(a.resolveCommand())
	root.AddCommand(a.downloadCommand())
	root.AddCommand(versionCommand())

	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	a.log = logger.New(cfg)
	a.log.SetOutput(cmd.ErrOrStderr())
	if a.debug {
		a.log.SetLevel(logrus.DebugLevel)
	}

	return nil
}

func (a *app) resolver() *douyin.Resolver {
	return douyin.NewResolver(&a.cfg.Douyin, douyin.WithHTTPClient(a.client), douyin.WithLogger(a.log))
}

// shareText joins the arguments back into one text; shells split share
// texts on their spaces.
func shareText(args []string) string {
	return strings.Join(args, " ")
}
