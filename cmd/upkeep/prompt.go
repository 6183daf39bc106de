// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// maxCredentialBytes bounds a credential read from a pipe.
const maxCredentialBytes = 4096

// errEmptyCredential is returned when no credential was entered.
var errEmptyCredential = errors.New("no credential entered")

// readSecret reads one credential. A terminal gets a no-echo prompt on
// prompt; anything else is read to EOF. Surrounding whitespace is dropped.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading credential: %w", err)
		}
		return nonEmpty(string(raw))
	}

	raw, err := io.ReadAll(io.LimitReader(in, maxCredentialBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	if len(raw) > maxCredentialBytes {
		return "", fmt.Errorf("reading credential: input exceeds %d bytes", maxCredentialBytes)
	}
	return nonEmpty(string(raw))
}

func nonEmpty(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errEmptyCredential
	}
	return s, nil
}
