package main

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/3leaps/relsync/internal/archive"
	"github.com/3leaps/relsync/internal/match"
	"github.com/3leaps/relsync/internal/model"
	"github.com/3leaps/relsync/internal/pipeline"
	"github.com/3leaps/relsync/internal/transform"
	"github.com/3leaps/relsync/internal/verify"
)

func newChecksumCmd(opts *globalOptions) *cobra.Command {
	var algorithms []string

	cmd := &cobra.Command{
		Use:   "checksum [glob...]",
		Short: "Publish checksum files for the selected release assets",
		Long: `Hashes every selected asset with each algorithm and publishes one
checksum file per algorithm (checksums.b2, checksums.sha256, checksums.sha512).
Globs default to "*.tar.gz,*.zip". Any failure aborts the run before anything
is published.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Checksum.Globs = splitGlobs(args)
			}
			if cmd.Flags().Changed("algorithms") {
				cfg.Checksum.Algorithms = algorithms
			}

			algos, err := transform.ParseAlgorithms(cfg.Checksum.Algorithms)
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			d := &pipeline.Driver{Client: client, Limit: cfg.Concurrency}
			rep, err := d.Run(cmd.Context(), cfg.Tag, cfg.Checksum.Globs, transform.NewDigest(algos...))
			return report(opts, rep, err)
		},
	}
	cmd.Flags().StringSliceVar(&algorithms, "algorithms", nil, "hash algorithms (b2, sha256, sha512)")
	return cmd
}

func newSignCmd(opts *globalOptions) *cobra.Command {
	var (
		key        string
		passphrase string
		globs      string
		gpgBin     string
		gpgHome    string
		suffix     string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Publish detached GPG signatures for the selected release assets",
		Long: `Imports the signing key, signs every selected asset in its own gpg
process and publishes <asset>.asc next to it. The key is removed from the
keyring afterwards, also when signing fails. One failed asset does not stop
the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("gpg-key") {
				cfg.Sign.Key = key
			}
			if flags.Changed("gpg-passphrase") {
				cfg.Sign.Passphrase = passphrase
			}
			if flags.Changed("globs") {
				cfg.Sign.Globs = match.SplitList(globs)
			}
			if flags.Changed("gpg-bin") {
				cfg.Sign.GPGBin = gpgBin
			}
			if flags.Changed("gpg-homedir") {
				cfg.Sign.GPGHomeDir = gpgHome
			}
			if flags.Changed("suffix") {
				cfg.Sign.Suffix = suffix
			}

			armored, err := cfg.SigningKey()
			if err != nil {
				return err
			}
			keyring, err := transform.NewKeyring(cfg.Sign.GPGBin, cfg.Sign.GPGHomeDir)
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			d := &pipeline.Driver{Client: client, Limit: cfg.Concurrency}
			rep, err := d.Sign(cmd.Context(), cfg.Tag, cfg.Sign.Globs, keyring, armored, cfg.Sign.Passphrase, cfg.Sign.Suffix)
			return report(opts, rep, err)
		},
	}
	f := cmd.Flags()
	f.StringVar(&key, "gpg-key", "", "ASCII-armored secret key, or @path (env INPUT_GPG_KEY)")
	f.StringVar(&passphrase, "gpg-passphrase", "", "passphrase of the secret key (env INPUT_GPG_PASSPHRASE)")
	f.StringVar(&globs, "globs", "", `comma separated asset globs (env INPUT_GLOBS, default "*.{b2,sha256,sha512}")`)
	f.StringVar(&gpgBin, "gpg-bin", "gpg", "path to gpg executable")
	f.StringVar(&gpgHome, "gpg-homedir", "", "gpg home directory (default: gpg's own)")
	f.StringVar(&suffix, "suffix", transform.DefaultSignatureSuffix, "signature file extension")
	return cmd
}

func newPackageCmd(opts *globalOptions) *cobra.Command {
	var (
		binary string
		name   string
		suffix string
		format string
	)

	cmd := &cobra.Command{
		Use:   "package",
		Short: "Archive a prebuilt binary and publish it to the release",
		Long: `Packages the binary as <name>-<suffix>.tar.gz (or .zip for Windows
suffixes) and publishes it, replacing an earlier archive of the same name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if binary == "" {
				return fmt.Errorf("--binary is required")
			}
			if cmd.Flags().Changed("name") {
				cfg.Package.Name = name
			}
			if cmd.Flags().Changed("format") {
				cfg.Package.Format = format
			}
			if cfg.Package.Name == "" {
				cfg.Package.Name = strings.TrimSuffix(filepath.Base(binary), ".exe")
			}

			out, err := archive.Package(binary, cfg.Package.Name, suffix, cfg.Package.Format)
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			d := &pipeline.Driver{Client: client, Limit: cfg.Concurrency}
			rep, err := d.Publish(cmd.Context(), cfg.Tag, []model.Output{out})
			return report(opts, rep, err)
		},
	}
	f := cmd.Flags()
	f.StringVar(&binary, "binary", "", "path to the prebuilt binary")
	f.StringVar(&name, "name", "", "archive base name (default: binary file name)")
	f.StringVar(&suffix, "suffix", runtime.GOOS+"-"+runtime.GOARCH, "archive name suffix, usually the target triple")
	f.StringVar(&format, "format", "", "archive format: tar.gz or zip (default: by suffix)")
	return cmd
}

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	var (
		algorithms  []string
		minisignKey string
		pgpKey      string
		gpgBin      string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check the published checksum files against the release assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("algorithms") {
				cfg.Verify.Algorithms = algorithms
			}
			if flags.Changed("minisign-key") {
				cfg.Verify.MinisignKey = minisignKey
			}
			if flags.Changed("pgp-key") {
				cfg.Verify.PGPKey = pgpKey
			}

			var algos []transform.Algorithm
			if len(cfg.Verify.Algorithms) > 0 {
				if algos, err = transform.ParseAlgorithms(cfg.Verify.Algorithms); err != nil {
					return err
				}
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			rel, err := client.GetRelease(cmd.Context(), cfg.Tag)
			if err != nil {
				return err
			}

			results, err := verify.Release(cmd.Context(), client, rel, verify.Options{
				Algorithms:  algos,
				MinisignKey: cfg.Verify.MinisignKey,
				PGPKey:      cfg.Verify.PGPKey,
				GPGBin:      gpgBin,
				Limit:       cfg.Concurrency,
			})
			for _, res := range results {
				signed := ""
				if len(res.Signed) > 0 {
					signed = " (signature: " + strings.Join(res.Signed, ", ") + ")"
				}
				fmt.Fprintf(opts.stdout, "%s: %d assets verified%s\n", res.File, len(res.Verified), signed)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&algorithms, "algorithms", nil, "checksum files to verify (default: all present)")
	f.StringVar(&minisignKey, "minisign-key", "", "minisign public key; requires checksums.<ext>.minisig")
	f.StringVar(&pgpKey, "pgp-key", "", "ASCII-armored PGP public key; requires checksums.<ext>.asc")
	f.StringVar(&gpgBin, "gpg-bin", "gpg", "path to gpg executable")
	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relsync version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintln(stdout, "relsync", version)
		},
	}
}

// report prints the run summary: to stdout on success, to stderr otherwise.
func report(opts *globalOptions, rep *pipeline.Report, err error) error {
	w := opts.stdout
	if err != nil {
		w = opts.stderr
	}
	printReport(w, rep, err)
	return err
}

// splitGlobs accepts globs as separate arguments or comma separated lists.
func splitGlobs(args []string) []string {
	var out []string
	for _, a := range args {
		out = append(out, match.SplitList(a)...)
	}
	return out
}
