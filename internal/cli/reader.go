package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ErrInputCancelled is returned when input is canceled by context.
var ErrInputCancelled = errors.New("input canceled")

// Prompter asks the user questions on a terminal. Reads respect context
// cancellation so Ctrl-C is never stuck behind a blocking read.
type Prompter struct {
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex
}

// NewPrompter creates a prompter reading from r and writing prompts to w.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{
		reader: bufio.NewReader(r),
		writer: w,
	}
}

// ReadLine reads one trimmed line.
func (p *Prompter) ReadLine(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ErrInputCancelled
	}

	type result struct {
		err   error
		value string
	}
	resultCh := make(chan result, 1)

	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		value, err := p.reader.ReadString('\n')
		if errors.Is(err, io.EOF) && value != "" {
			err = nil
		}
		resultCh <- result{value: value, err: err}
	}()

	// The reading goroutine outlives a cancelled call until input arrives.
	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case res := <-resultCh:
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimSpace(res.value), nil
	}
}

// Confirm asks a yes/no question. Anything but y/yes is a no.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	if _, err := fmt.Fprint(p.writer, FormatPrompt(question+" [y/N]")); err != nil {
		return false, fmt.Errorf("failed to write prompt: %w", err)
	}
	answer, err := p.ReadLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Choose asks the user to pick one of options by number and returns its index.
func (p *Prompter) Choose(ctx context.Context, question string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, errors.New("nothing to choose from")
	}

	for i, opt := range options {
		if _, err := fmt.Fprintf(p.writer, "  [%d] %s\n", i+1, opt); err != nil {
			return 0, fmt.Errorf("failed to write option: %w", err)
		}
	}

	for {
		if _, err := fmt.Fprint(p.writer, FormatPrompt(question)); err != nil {
			return 0, fmt.Errorf("failed to write prompt: %w", err)
		}
		answer, err := p.ReadLine(ctx)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		if _, err := fmt.Fprintln(p.writer, FormatWarning(fmt.Sprintf("Pick a number between 1 and %d.", len(options)))); err != nil {
			return 0, fmt.Errorf("failed to write warning: %w", err)
		}
	}
}
