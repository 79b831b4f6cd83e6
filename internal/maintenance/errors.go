package maintenance

import (
	"errors"
	"fmt"
	"os"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/crypto"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/snapshot"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPermission
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not found"
	default:
		return "internal"
	}
}

var (
	ErrPasswordTooShort     = fmt.Errorf("maintenance: password must be at least %d characters", MinPasswordLength)
	ErrNotAdmin             = errors.New("maintenance: administrative role required")
	ErrUnauthenticated      = errors.New("maintenance: caller could not be authenticated")
	ErrOperationInProgress  = errors.New("maintenance: another maintenance operation is running")
	ErrNoPendingRestart     = errors.New("maintenance: no restart is pending")
	ErrBackupTooLarge       = errors.New("maintenance: backup file exceeds size limit")
	ErrDestinationRequired  = errors.New("maintenance: destination path is required")
	ErrSourceRequired       = errors.New("maintenance: source path is required")
	ErrDestinationIsLive    = errors.New("maintenance: destination is the live database")
	ErrDatabaseNotAvailable = errors.New("maintenance: no database path configured")
)

// Error is what every public Service operation returns on failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind carried by err, or KindInternal when err is not an
// *Error.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindInternal
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify normalizes engine, IO and codec errors into the taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}

	switch {
	case errors.Is(err, crypto.ErrAuthenticationFailed),
		errors.Is(err, ErrNotAdmin),
		errors.Is(err, ErrUnauthenticated):
		return newError(KindPermission, op, err)
	case errors.Is(err, crypto.ErrMalformedEnvelope),
		errors.Is(err, crypto.ErrUnknownMagic),
		errors.Is(err, crypto.ErrUnsupportedVersion),
		errors.Is(err, snapshot.ErrCorruptPayload),
		errors.Is(err, ErrPasswordTooShort),
		errors.Is(err, ErrOperationInProgress),
		errors.Is(err, ErrNoPendingRestart),
		errors.Is(err, ErrBackupTooLarge),
		errors.Is(err, ErrDestinationRequired),
		errors.Is(err, ErrSourceRequired),
		errors.Is(err, ErrDestinationIsLive):
		return newError(KindValidation, op, err)
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, os.ErrNotExist),
		errors.Is(err, ErrDatabaseNotAvailable):
		return newError(KindNotFound, op, err)
	default:
		return newError(KindInternal, op, err)
	}
}
