package main

import (
	"errors"

	"github.com/sells-group/playlog-cli/internal/source"
	"github.com/sells-group/playlog-cli/internal/store"
)

// Process exit codes.
const (
	exitOK           = 0
	exitUnclassified = 1
	exitConfig       = 2
	exitParse        = 3
	exitMissingField = 4
	exitStorage      = 5
)

// configError marks an invalid or unreadable configuration.
type configError struct {
	err error
}

func (e *configError) Error() string {
	return e.err.Error()
}

func (e *configError) Unwrap() error {
	return e.err
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		cfgErr     *configError
		missingErr *source.MissingFieldError
		parseErr   *source.ParseError
		storeErr   *store.StorageError
	)
	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.As(err, &missingErr):
		return exitMissingField
	case errors.As(err, &parseErr):
		return exitParse
	case errors.As(err, &storeErr):
		return exitStorage
	default:
		return exitUnclassified
	}
}

func validateConfig(mode string) error {
	if err := cfg.Validate(mode); err != nil {
		return &configError{err: err}
	}
	return nil
}
