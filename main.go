package main

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/3leaps/relsync/internal/config"
	"github.com/3leaps/relsync/internal/host/github"
	"github.com/3leaps/relsync/internal/logging"
	"github.com/3leaps/relsync/internal/pipeline"
)

var version = "dev"

//go:embed docs/quickstart.txt
var quickstartDoc string

// run executes the command line and returns the process exit status.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		if github.IsNotFound(err) {
			fmt.Fprintln(stderr, "hint: the release must already exist; check --repo and --tag")
		}
		return 1
	}
	return 0
}

// globalOptions holds the persistent flags shared by release commands.
type globalOptions struct {
	configPath  string
	repo        string
	tag         string
	token       string
	concurrency int
	logLevel    string
	logFormat   string

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "relsync",
		Short:         "Publish checksums, signatures and archives onto a GitHub release",
		Long:          strings.TrimSpace(quickstartDoc),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to a YAML or JSON config file")
	pf.StringVar(&opts.repo, "repo", "", "GitHub repo owner/name (env GITHUB_REPOSITORY)")
	pf.StringVar(&opts.tag, "tag", "", "release tag (env GITHUB_REF_NAME)")
	pf.StringVar(&opts.token, "token", "", "GitHub token (env RELSYNC_GITHUB_TOKEN or GITHUB_TOKEN)")
	pf.IntVar(&opts.concurrency, "concurrency", config.DefaultConcurrency, "maximum concurrent downloads, subprocesses and uploads")
	pf.StringVar(&opts.logLevel, "log-level", config.DefaultLogLevel, "log level (trace, debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", config.DefaultLogFormat, "log format (text or json)")

	root.AddCommand(
		newChecksumCmd(opts),
		newSignCmd(opts),
		newPackageCmd(opts),
		newVerifyCmd(opts),
		newVersionCmd(stdout),
	)
	return root
}

// load resolves the configuration: flags over env over config file over
// defaults. It also configures logging.
func (o *globalOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("repo") {
		cfg.Repo = o.repo
	}
	if flags.Changed("tag") {
		cfg.Tag = o.tag
	}
	if flags.Changed("token") {
		cfg.Token = o.token
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = o.concurrency
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = o.logFormat
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat, o.stderr); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newClient(cfg config.Config) (*github.Client, error) {
	if cfg.Token == "" {
		log.Warn("no GitHub token configured; uploads will be rejected")
	}
	return github.New(github.Options{
		Repo:       cfg.Repo,
		Token:      cfg.Token,
		APIBase:    github.APIBaseFromEnv(),
		UploadBase: github.UploadBaseFromEnv(),
		UserAgent:  github.UserAgent(version),
	})
}

// printReport writes the run summary. Partial publishes name what is on the
// release and what is missing so the run can be repeated.
func printReport(w io.Writer, rep *pipeline.Report, err error) {
	if rep == nil {
		return
	}
	published := rep.Published.Names()
	switch {
	case err == nil && len(rep.Selected) == 0 && len(rep.Produced) == 0:
		fmt.Fprintf(w, "no assets matched on %s; nothing published\n", rep.Tag)
	case err == nil:
		fmt.Fprintf(w, "published %d assets to %s: %s\n", len(published), rep.Tag, strings.Join(published, ", "))
	case rep.Partial():
		fmt.Fprintf(w, "partially published to %s\n", rep.Tag)
		fmt.Fprintf(w, "  published: %s\n", strings.Join(published, ", "))
		fmt.Fprintf(w, "  failed:    %s\n", strings.Join(rep.Failed, ", "))
		fmt.Fprintln(w, "re-run the command to retry; published assets will be replaced")
	case len(rep.Failed) > 0:
		fmt.Fprintf(w, "nothing published to %s; failed: %s\n", rep.Tag, strings.Join(rep.Failed, ", "))
	}
}
