package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/featureflow/pkg/featureflow"
	"github.com/randalmurphal/featureflow/pkg/featureflow/config"
	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
)

var errInvalidDTC = errors.New("invalid dtc")

func newValidateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Load DTC files and report every schema error",
		Long: `Loads the DTC files in order into one loader, so a window DTC can
reference the blocks of a streaming DTC listed before it, and parses
every top-level transformer. All problems are reported at once.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			errs, err := validate(logger, args)
			if err != nil {
				return err
			}
			if errs.Len() > 0 {
				fmt.Fprint(cmd.OutOrStdout(), errs.Format("\n"))
				return fmt.Errorf("%w: %d problem(s)", errInvalidDTC, errs.Len())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d file(s) valid\n", len(args))
			return nil
		},
	}
}

// validate loads paths and collects every schema error. Only file
// problems are returned as err.
func validate(logger *slog.Logger, paths []string) (*fferrors.ErrorCollection, error) {
	l := featureflow.NewLoader()
	defer func() { _ = l.Close() }()

	var errs fferrors.ErrorCollection
	for _, path := range paths {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, err
		}
		fqn, err := l.AddSchema(cfg.Raw(), "")
		if err != nil {
			if !collect(&errs, err) {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			continue
		}
		s, err := l.Get(fqn)
		if err != nil {
			return nil, err
		}
		build, err := featureflow.LoadSchema(s.Type)
		if err != nil {
			errs.Add(fferrors.UnknownType(fqn, s.Type))
			continue
		}
		if _, err := build(l, fqn); err != nil && !collect(&errs, err) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		logger.Debug("dtc loaded", slog.String("path", path), slog.String("fqn", fqn), slog.String("type", s.Type))
	}
	return &errs, nil
}

// collect files err in errs and reports whether it held schema errors.
func collect(errs *fferrors.ErrorCollection, err error) bool {
	before := errs.Len()
	errs.Add(err)
	return errs.Len() > before
}
