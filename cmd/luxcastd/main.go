// Command luxcastd runs the compositor server: it builds the engine,
// registers the built-in effects, optionally restores a preset, and
// drives the render loop until interrupted.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/luxcast/luxcast"
	"github.com/luxcast/luxcast/effects"
	"github.com/luxcast/luxcast/engine"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "luxcastd",
		Short: "Real-time video compositor and projection-mapping server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(v)
		},
	}

	flags := root.Flags()
	flags.String("config", "", "config file (default searches ./luxcastd.toml)")
	flags.Uint32("width", 1920, "composition width in pixels")
	flags.Uint32("height", 1080, "composition height in pixels")
	flags.Float64("fps", 60, "target frames per second (24-240)")
	flags.String("preset-dir", defaultPresetDir(), "preset storage directory")
	flags.String("preset", "", "preset to load at startup")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	for _, name := range []string{"width", "height", "fps", "preset-dir", "preset", "log-level"} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cobra.OnInitialize(func() {
		if cfgFile, _ := root.Flags().GetString("config"); cfgFile != "" {
			v.SetConfigFile(cfgFile)
		} else {
			v.SetConfigName("luxcastd")
			v.SetConfigType("toml")
			v.AddConfigPath(".")
			v.AddConfigPath("/etc/luxcast")
		}
		v.SetEnvPrefix("LUXCAST")
		v.AutomaticEnv()
		if err := v.ReadInConfig(); err == nil {
			fmt.Fprintln(os.Stderr, "using config:", v.ConfigFileUsed())
		}
	})

	return root
}

func defaultPresetDir() string {
	home, err := os.UserConfigDir()
	if err != nil {
		return "presets"
	}
	return home + "/luxcast/presets"
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServe(v *viper.Viper) error {
	luxcast.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(v.GetString("log-level")),
	})))

	if err := effects.RegisterBuiltins(); err != nil {
		return fmt.Errorf("register effects: %w", err)
	}

	e, err := engine.New(engine.Config{
		EnvironmentWidth:  v.GetUint32("width"),
		EnvironmentHeight: v.GetUint32("height"),
		TargetFPS:         v.GetFloat64("fps"),
		PresetDir:         v.GetString("preset-dir"),
	})
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer e.Close()

	if preset := v.GetString("preset"); preset != "" {
		if err := e.Post(engine.LoadPreset{Name: preset}); err != nil {
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		luxcast.Logger().Info("shutting down")
		e.Stop()
	}()

	luxcast.Logger().Info("luxcastd running",
		"composition", fmt.Sprintf("%dx%d", v.GetUint32("width"), v.GetUint32("height")),
		"fps", v.GetFloat64("fps"))
	return e.Run()
}
