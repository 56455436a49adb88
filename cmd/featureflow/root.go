package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "FEATUREFLOW"

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	command := &cobra.Command{
		Use:           "featureflow",
		Short:         "Compute time-windowed features from event streams",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	command.PersistentFlags().String("log-format", "text", "log format: text or json")
	command.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	_ = v.BindPFlags(command.PersistentFlags())

	command.AddCommand(newRunCommand(v), newValidateCommand(v))
	return command
}

// bindFlags makes every local flag of cmd readable through v, with
// FEATUREFLOW_<FLAG> environment overrides.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	return v.BindPFlags(cmd.Flags())
}

func newLogger(v *viper.Viper, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", v.GetString("log-level"))
	}
	opts := &slog.HandlerOptions{Level: level}

	switch format := strings.ToLower(v.GetString("log-format")); format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
