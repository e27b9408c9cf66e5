// ckv runs audio scripts as cooperative shreds against a sample clock.
//
//	ckv [flags] script...             play through the sound card
//	ckv render --out x.wav script...  render offline
//	ckv devices                       list audio and MIDI devices
//	ckv check script...               report load errors only
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alltom/ckv/internal/conf"
	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/script"
)

var (
	pf = fmt.Printf
	sf = fmt.Sprintf
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	v := conf.New()
	var configFile string

	root := &cobra.Command{
		Use:          "ckv [flags] script...",
		Short:        "cooperative audio scripting VM",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings(v, cmd, configFile)
			if err != nil {
				return err
			}
			return runLive(cmd.Context(), s, args)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./ckv.yaml, then ~/.config/ckv/ckv.yaml)")
	conf.Flags(root.PersistentFlags())

	root.AddCommand(
		renderCommand(v, &configFile),
		devicesCommand(),
		checkCommand(),
	)
	return root
}

func renderCommand(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render [flags] script...",
		Short: "render scripts to a wav file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings(v, cmd, *configFile)
			if err != nil {
				return err
			}
			s.Offline.Enabled = true
			return runOffline(cmd.Context(), s, args)
		},
	}
	conf.OfflineFlags(cmd.Flags())
	return cmd
}

func devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "list audio and MIDI devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listDevices(cmd.OutOrStdout())
		},
	}
}

func checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check script...",
		Short: "compile scripts without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd, args)
		},
	}
}

func settings(v *viper.Viper, cmd *cobra.Command, configFile string) (*conf.Settings, error) {
	if err := conf.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return conf.Load(v, configFile)
}

// check reports each script's load error; it fails if any script does
func check(cmd *cobra.Command, paths []string) error {
	failed := 0
	for _, path := range paths {
		src, rr := os.ReadFile(path)
		if e(rr) {
			cmd.PrintErrln(sf("%s: %v", path, rr))
			failed++
			continue
		}
		if rr := script.Check(string(src)); e(rr) {
			cmd.PrintErrln(sf("%s: %v", path, rr))
			failed++
			continue
		}
		cmd.Println(sf("%s: ok", path))
	}
	if failed > 0 {
		return errors.Newf("%d of %d scripts failed to load", failed, len(paths)).
			Component("main").
			Category(errors.CategoryScriptLoad).
			Build()
	}
	return nil
}

// error handling
func e(rr error) bool {
	return rr != nil
}
