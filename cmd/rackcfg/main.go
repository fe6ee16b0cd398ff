// rackcfg – rack controller configuration renderer
//
// Usage:
//
//	rackcfg render nginx|syslog|unit   – print a rendered artifact
//	rackcfg apply [--dry-run] [--reload] – install rendered artifacts
//	rackcfg check                      – detect drift and regressions
//	rackcfg watch                      – re-apply when the manifest changes
//	rackcfg doctor                     – check host prerequisites
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	rack "github.com/h3ow3d/rackcfg/internal"
	"github.com/h3ow3d/rackcfg/internal/deploy"
	"github.com/h3ow3d/rackcfg/internal/log"
	"github.com/h3ow3d/rackcfg/internal/manifest"
	"github.com/h3ow3d/rackcfg/internal/types"
	"github.com/h3ow3d/rackcfg/internal/watch"
)

var (
	manifestFlag string
	verbose      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rackcfg",
		Short: "Rack controller configuration renderer",
		Long: `rackcfg renders the configuration a rack controller host runs on:
the HTTP proxy config for nginx, the rsyslog relay config, and the
maas-rackd systemd unit.

Inputs come from one YAML manifest, resolved from --manifest, then
$RACKCFG_MANIFEST, then $XDG_CONFIG_HOME/rackcfg/rack.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			log.SetVerbose(verbose)
		},
	}
	root.PersistentFlags().StringVarP(&manifestFlag, "manifest", "m", "", "path to the rack manifest")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug output")

	root.AddCommand(renderCmd(), applyCmd(), checkCmd(), watchCmd(), doctorCmd())
	return root
}

func loadManifest() (*types.RackManifest, error) {
	path := rack.DefaultXDGDirs().ResolveManifest(manifestFlag)
	log.Debug("loading manifest", zap.String("path", path))
	return manifest.Load(path)
}

// ── render ────────────────────────────────────────────────────────────────────

func renderCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "render <nginx|syslog|unit>",
		Short:     "Print a rendered artifact to stdout",
		ValidArgs: []string{deploy.Nginx, deploy.Syslog, deploy.Unit},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the artifact; diagnostics go to stderr.
			log.SetOutput(cmd.ErrOrStderr(), cmd.ErrOrStderr())
			m, err := loadManifest()
			if err != nil {
				return err
			}
			artifacts, err := deploy.Render(m)
			if err != nil {
				return err
			}
			for _, a := range artifacts {
				if a.Name == args[0] {
					_, err := cmd.OutOrStdout().Write(a.Data)
					return err
				}
			}
			return fmt.Errorf("unknown artifact %q", args[0])
		},
	}
}

// ── apply ─────────────────────────────────────────────────────────────────────

func applyCmd() *cobra.Command {
	var opts deploy.Options
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Render and install every artifact",
		Long: `Renders the nginx, rsyslog and systemd artifacts. If any of them fails to
render, nothing is written. Files whose content is unchanged are left alone;
changed files are replaced atomically.

With --reload, changed artifacts are applied to their services:
  unit   → systemctl daemon-reload, restart maas-rackd
  nginx  → reload maas-http
  syslog → restart maas-syslog`,
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := loadManifest()
			if err != nil {
				return err
			}
			opts.HashPath = rack.DefaultXDGDirs().UnitHashFile()
			_, err = deploy.Apply(m, opts)
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "render and compare without writing")
	cmd.Flags().BoolVar(&opts.Reload, "reload", false, "reload or restart services whose artifacts changed")
	return cmd
}

// ── check ─────────────────────────────────────────────────────────────────────

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Detect drift and lifecycle regressions",
		Long: `Re-renders every artifact twice and requires byte-identical output, then
compares the installed files with the rendered ones. The installed unit must
still declare exactly one ambient capability and a 10s restart delay, and
must match the hash recorded at install time.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := loadManifest()
			if err != nil {
				return err
			}
			problems := deploy.Check(m, rack.DefaultXDGDirs().UnitHashFile())
			if len(problems) == 0 {
				log.Ok("installed configuration matches the manifest")
				return nil
			}
			return fmt.Errorf("%d problem(s) found:\n  - %s", len(problems), strings.Join(problems, "\n  - "))
		},
	}
}

// ── watch ─────────────────────────────────────────────────────────────────────

func watchCmd() *cobra.Command {
	var reload bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-apply whenever the manifest changes",
		RunE: func(_ *cobra.Command, _ []string) error {
			dirs := rack.DefaultXDGDirs()
			path := dirs.ResolveManifest(manifestFlag)
			apply := func() error {
				m, err := manifest.Load(path)
				if err != nil {
					return err
				}
				_, err = deploy.Apply(m, deploy.Options{Reload: reload, HashPath: dirs.UnitHashFile()})
				return err
			}

			if err := apply(); err != nil {
				log.Error("initial apply failed", zap.Error(err))
			}

			w, err := watch.New(path, apply)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("Watching manifest", zap.String("path", path))
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&reload, "reload", false, "reload or restart services whose artifacts changed")
	return cmd
}

// ── doctor ────────────────────────────────────────────────────────────────────

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check host prerequisites",
		RunE: func(_ *cobra.Command, _ []string) error {
			dirs := rack.DefaultXDGDirs()
			unitPath := manifest.DefaultUnitPath
			if m, err := loadManifest(); err == nil {
				unitPath = m.Spec.Output.Unit
			} else {
				log.Debug("no usable manifest, using default unit path", zap.Error(err))
			}

			failed := 0
			for _, r := range rack.RunDoctorChecks(dirs, unitPath) {
				if r.OK {
					log.Ok(fmt.Sprintf("%s: %s", r.Name, r.Message))
					continue
				}
				failed++
				log.Error(fmt.Sprintf("%s: %s", r.Name, r.Message))
				for _, line := range strings.Split(r.HowToFix, "\n") {
					fmt.Fprintf(os.Stderr, "      %s\n", line)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}
