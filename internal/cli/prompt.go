package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/crypto"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/maintenance"
)

var (
	isTerminalFn     = term.IsTerminal
	promptPasswordFn = promptPassword
	promptConfirmFn  = promptConfirm
)

// readPassword takes the backup password from the first line of stdin when
// fromStdin is set, otherwise from an interactive prompt.
func readPassword(cmd *cobra.Command, fromStdin bool, title string, repeat bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password from stdin: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return "", usageErrorf("no password received on stdin")
		}
		return line, nil
	}
	if !stdinIsTerminal(cmd) {
		return "", usageErrorf("a password is required: pass --password-stdin or run in a terminal")
	}
	return promptPasswordFn(title, repeat)
}

func confirmAction(cmd *cobra.Command, globals *GlobalOptions, title string) error {
	if globals.Yes {
		return nil
	}
	if !stdinIsTerminal(cmd) {
		return usageErrorf("%s: pass --yes to confirm non-interactively", title)
	}
	ok, err := promptConfirmFn(title)
	if err != nil {
		return err
	}
	if !ok {
		return usageErrorf("aborted")
	}
	return nil
}

func stdinIsTerminal(cmd *cobra.Command) bool {
	file, ok := cmd.InOrStdin().(*os.File)
	return ok && isTerminalFn(int(file.Fd()))
}

func validatePasswordLength(value string) error {
	if utf8.RuneCountInString(crypto.NormalizePassword(value)) < maintenance.MinPasswordLength {
		return fmt.Errorf("use at least %d characters", maintenance.MinPasswordLength)
	}
	return nil
}

func promptPassword(title string, repeat bool) (string, error) {
	var password, again string
	fields := []huh.Field{
		huh.NewInput().
			Title(title).
			EchoMode(huh.EchoModePassword).
			Validate(validatePasswordLength).
			Value(&password),
	}
	if repeat {
		fields = append(fields, huh.NewInput().
			Title("Repeat password").
			EchoMode(huh.EchoModePassword).
			Value(&again))
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return "", fmt.Errorf("password prompt: %w", err)
	}
	if repeat && password != again {
		return "", usageErrorf("passwords do not match")
	}
	return password, nil
}

func promptConfirm(title string) (bool, error) {
	var ok bool
	confirm := huh.NewConfirm().
		Title(title).
		Affirmative("Replace").
		Negative("Cancel").
		Value(&ok)
	if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return ok, nil
}
