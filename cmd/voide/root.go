package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/config"
)

// errReported marks a failure whose details were already printed.
var errReported = errors.New("reported")

// app is the state shared by every command.
type app struct {
	v      *viper.Viper
	engine config.Engine
	logger *slog.Logger
}

// newApp returns an app whose settings read VOIDE_* environment variables.
func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("VOIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &app{v: v}
}

func newRootCmd() *cobra.Command {
	a := newApp()

	root := &cobra.Command{
		Use:           "voide",
		Short:         "Validate, schedule and observe voide flows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "engine config file (.yaml, .yml or .json)")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: text or json")
	a.bind("config", pf.Lookup("config"))
	a.bind("log.level", pf.Lookup("log-level"))
	a.bind("log.format", pf.Lookup("log-format"))

	root.AddCommand(
		newValidateCmd(a),
		newOrderCmd(a),
		newRunCmd(a),
		newTelemetryCmd(a),
	)
	return root
}

// bind ties a viper key to a flag. Lookup only fails for a misspelled flag
// name, which is a programming error.
func (a *app) bind(key string, flag *pflag.Flag) {
	if err := a.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}

// setup loads the engine config and builds the logger.
func (a *app) setup(logOut io.Writer) error {
	engine := config.Engine{}.Defaults()
	if path := a.v.GetString("config"); path != "" {
		loaded, err := config.FromFile(path)
		if err != nil {
			return err
		}
		engine = loaded
	}

	for key, dst := range map[string]*string{
		"log.level":               &engine.Log.Level,
		"log.format":              &engine.Log.Format,
		"telemetry.ring_path":     &engine.Telemetry.RingPath,
		"telemetry.fallback.type": &engine.Telemetry.Fallback.Type,
		"store.driver":            &engine.Store.Driver,
		"store.path":              &engine.Store.Path,
		"run.failure_policy":      &engine.Run.FailurePolicy,
	} {
		if s := a.v.GetString(key); s != "" {
			*dst = s
		}
	}
	if n := a.v.GetInt("run.max_concurrency"); n > 0 {
		engine.Run.MaxConcurrency = n
	}
	if a.v.GetBool("telemetry.disabled") {
		engine.Telemetry.Disabled = true
	}
	if err := engine.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(logOut, engine.Log)
	if err != nil {
		return err
	}
	a.engine = engine
	a.logger = logger
	return nil
}

func newLogger(w io.Writer, lc config.Log) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
