package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/keagan/clipcannon/internal/clips"
	"github.com/keagan/clipcannon/internal/config"
	"github.com/keagan/clipcannon/internal/logging"
	"github.com/keagan/clipcannon/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const tempMaxAge = 24 * time.Hour

var (
	cfgFile        string
	verbose        bool
	selectOnly     bool
	waitClaims     bool
	publishPending bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clipcannon",
	Short: "clipcannon - highlight clipper for allowlisted creators",
	Long: "Finds the strongest moments of long creator videos, renders them as vertical shorts " +
		"and publishes them behind a copyright-claim window.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			logging.Init(verbose, false)
			log.Error().Err(err).Msg("invalid configuration")
			return err
		}
		logging.Init(verbose, cfg.Logging.JSON)

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	processCmd.Flags().BoolVar(&selectOnly, "select-only", false, "write clip specs instead of rendering and publishing")
	publishCmd.Flags().BoolVar(&publishPending, "pending", false, "also upload clips left rendered while publishing was disabled")
	claimsResumeCmd.Flags().BoolVar(&waitClaims, "wait", true, "keep running until every resumed claim check has fired")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(claimsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(admitCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(creatorsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cleanupCmd)

	claimsCmd.AddCommand(claimsCheckCmd, claimsResumeCmd)
	creatorsCmd.AddCommand(creatorsListCmd, creatorsEnableCmd, creatorsDisableCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd)
}

var processCmd = &cobra.Command{
	Use:   "process [video id]...",
	Short: "Select, render and publish clips for videos",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var failed int
		for _, videoID := range args {
			if selectOnly {
				specs, err := a.orch.ProcessVideo(cmd.Context(), videoID)
				if err != nil {
					log.Error().Err(err).Str("video_id", videoID).Msg("selection failed")
					failed++
					continue
				}
				if err := writeSpecs(filepath.Join(cfg.WorkDir, "specs"), specs); err != nil {
					return err
				}
				continue
			}

			report, err := a.orch.RunVideo(cmd.Context(), videoID)
			if err != nil {
				log.Error().Err(err).Str("video_id", videoID).Msg("video run failed")
				failed++
				continue
			}
			for _, o := range report.Outcomes {
				ev := log.Info()
				if o.Err != nil {
					ev = log.Error().Err(o.Err)
				}
				ev.Str("clip_id", o.Spec.ClipID).
					Str("title", o.Spec.Title).
					Str("window", util.FormatClock(o.Spec.Start)+"-"+util.FormatClock(o.Spec.End)).
					Str("state", string(o.Record.State)).
					Msg("clip")
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d videos failed", failed, len(args))
		}
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish [spec.json]...",
	Short: "Render and publish clips from spec files",
	Args: func(cmd *cobra.Command, args []string) error {
		if publishPending {
			return nil
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		defer a.Close()

		if publishPending {
			if !a.machine.Enabled() {
				return fmt.Errorf("publishing is disabled; set publish.enabled or PUBLISH_ENABLED")
			}
			n, err := a.machine.SubmitPending(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("submitted", n).Msg("rendered clips submitted")
			if len(args) == 0 {
				return nil
			}
		}

		specs := make([]clips.Spec, 0, len(args))
		for _, path := range args {
			var spec clips.Spec
			if err := util.ReadJSON(path, &spec); err != nil {
				return fmt.Errorf("read spec %s: %w", path, err)
			}
			specs = append(specs, spec)
		}

		var failed int
		for _, o := range a.orch.PublishMany(cmd.Context(), specs) {
			if o.Err != nil {
				failed++
				continue
			}
			log.Info().Str("clip_id", o.Spec.ClipID).Str("state", string(o.Record.State)).Msg("clip published")
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d clips failed", failed, len(specs))
		}
		return nil
	},
}

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Claim window commands",
}

var claimsCheckCmd = &cobra.Command{
	Use:   "check [clip id]",
	Short: "Deliver a claim check for a clip now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.machine.HandleClaimCheck(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var claimsResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Reschedule claim checks left over from a previous run",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.machine.Resume(cmd.Context())
		if err != nil {
			return err
		}
		log.Info().Int("claim_checks", n).Msg("claim checks resumed")
		if !waitClaims {
			return nil
		}

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for a.scheduler.Pending() > 0 {
			select {
			case <-cmd.Context().Done():
				return nil
			case <-ticker.C:
			}
		}
		return nil
	},
}

var admitCmd = &cobra.Command{
	Use:   "admit [video id]",
	Short: "Mark a video as seen without processing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}
		store, closeStore, err := openSeen(log.Logger, cfg, db)
		if err != nil {
			return err
		}
		defer closeStore()

		admitted, err := store.Admit(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		log.Info().Str("video_id", args[0]).Bool("admitted", admitted).Msg("admission recorded")
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List library videos and whether they were seen",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		videos, err := newCatalog(cfg).List()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}
		store, closeStore, err := openSeen(log.Logger, cfg, db)
		if err != nil {
			return err
		}
		defer closeStore()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VIDEO\tCREATOR\tDURATION\tSEEN\tTITLE")
		for _, v := range videos {
			ok, err := store.Contains(cmd.Context(), v.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", v.ID, v.Creator, util.FormatClock(v.Duration), ok, v.Title)
		}
		return w.Flush()
	},
}

var creatorsCmd = &cobra.Command{
	Use:   "creators",
	Short: "Creator allowlist commands",
}

var creatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allowlisted creators",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		reg := cfg.Registry()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tENABLED\tDAILY CAP\tBRAND")
		for _, cr := range reg.List() {
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n", cr.ID, cr.Name, cr.Enabled, reg.DailyCap(cr), cr.BrandPreset)
		}
		return w.Flush()
	},
}

var creatorsEnableCmd = &cobra.Command{
	Use:   "enable [creator id]",
	Short: "Allow new videos from a creator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCreatorEnabled(cmd, args[0], true)
	},
}

var creatorsDisableCmd = &cobra.Command{
	Use:   "disable [creator id]",
	Short: "Stop admitting new videos from a creator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCreatorEnabled(cmd, args[0], false)
	},
}

func setCreatorEnabled(cmd *cobra.Command, id string, enabled bool) error {
	cfg := config.FromContext(cmd.Context())
	reg := cfg.Registry()
	if err := reg.SetEnabled(id, enabled); err != nil {
		return err
	}
	if err := reg.Save(cfg.AllowlistPath); err != nil {
		return fmt.Errorf("save allowlist: %w", err)
	}
	log.Info().Str("creator", id).Bool("enabled", enabled).Str("allowlist", cfg.AllowlistPath).Msg("creator updated")
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if util.FileExists(path) {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove temp files older than a day, keeping the state directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		removed, err := util.RemoveOlderThan(cfg.TempDir, tempMaxAge, time.Now(), cfg.StateDir)
		if err != nil {
			return err
		}
		log.Info().Int("removed", len(removed)).Str("dir", cfg.TempDir).Msg("temp files cleaned")
		return nil
	},
}

// writeSpecs stores one <clip id>.json per spec, the input format of publish.
func writeSpecs(dir string, specs []clips.Spec) error {
	for _, spec := range specs {
		path := filepath.Join(dir, spec.ClipID+".json")
		if err := util.WriteJSON(path, spec); err != nil {
			return fmt.Errorf("write spec: %w", err)
		}
		log.Info().Str("clip_id", spec.ClipID).Str("title", spec.Title).Str("path", path).Msg("clip spec written")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
