package main

import (
	"errors"

	"github.com/recondrone/drone/pkg/config"
	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/pipeline"
	"github.com/recondrone/drone/pkg/ui"
)

// reportError prints err and returns the exit status it maps to.
// Use this instead of ui.PrintError + os.Exit so deferred cleanup runs.
func reportError(err error) int {
	ui.PrintError(err.Error())
	return exitCode(err)
}

// exitCode maps errors from flag parsing, configuration and the pipeline
// to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return defaults.ExitSuccess
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, config.ErrMissingRequired):
		return defaults.ExitUserError
	default:
		return pipeline.ExitCode(err)
	}
}
