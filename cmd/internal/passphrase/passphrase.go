package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase from an environment variable or an
// interactive prompt, once. Later calls return the cached result.
type Source struct {
	envVar string
	prompt string

	// overridable in tests
	stdin     *os.File
	stderr    io.Writer
	readInput func(fd int) ([]byte, error)
	isTTY     func(fd int) bool

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on the terminal. An empty envVar
// always prompts.
func NewSource(envVar string) *Source {
	return &Source{
		envVar:    strings.TrimSpace(envVar),
		prompt:    "Enter keystore passphrase: ",
		stdin:     os.Stdin,
		stderr:    os.Stderr,
		readInput: term.ReadPassword,
		isTTY:     term.IsTerminal,
	}
}

// Get returns the passphrase. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		fd := int(s.stdin.Fd())
		if !s.isTTY(fd) {
			if s.envVar != "" {
				s.err = fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("keystore passphrase required and no terminal available")
			}
			return
		}

		fmt.Fprint(s.stderr, s.prompt)
		raw, err := s.readInput(fd)
		fmt.Fprintln(s.stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read passphrase: %w", err)
			return
		}
		if strings.TrimSpace(string(raw)) == "" {
			s.err = errors.New("keystore passphrase cannot be empty")
			return
		}
		s.value = string(raw)
	})
	return s.value, s.err
}
