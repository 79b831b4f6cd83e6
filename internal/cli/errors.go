package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/config"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/crypto"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/maintenance"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/session"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

const (
	ExitCodeSuccess    = 0
	ExitCodeGeneric    = 1
	ExitCodeUsage      = 2
	ExitCodeNotFound   = 3
	ExitCodePermission = 4
	ExitCodeAuthFailed = 5
	ExitCodeIO         = 7
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExitError) ExitCode() int {
	if e == nil {
		return ExitCodeGeneric
	}
	return e.Code
}

func asExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}
	return &ExitError{Code: code, Err: err}
}

func mapCommandError(err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}

	switch {
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, maintenance.ErrUnauthenticated),
		errors.Is(err, crypto.ErrAuthenticationFailed):
		return asExitError(ExitCodeAuthFailed, err)
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, storage.ErrConflict),
		errors.Is(err, session.ErrInvalidTTL):
		return asExitError(ExitCodeUsage, err)
	case errors.Is(err, storage.ErrNotFound):
		return asExitError(ExitCodeNotFound, err)
	}

	var maintenanceErr *maintenance.Error
	if errors.As(err, &maintenanceErr) {
		switch maintenanceErr.Kind {
		case maintenance.KindValidation:
			return asExitError(ExitCodeUsage, err)
		case maintenance.KindPermission:
			return asExitError(ExitCodePermission, err)
		case maintenance.KindNotFound:
			return asExitError(ExitCodeNotFound, err)
		}
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return asExitError(ExitCodeIO, err)
	}
	return asExitError(ExitCodeGeneric, err)
}

func usageErrorf(format string, args ...any) error {
	return &ExitError{
		Code: ExitCodeUsage,
		Err:  fmt.Errorf(format, args...),
	}
}
