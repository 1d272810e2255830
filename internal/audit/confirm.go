package audit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Gate is one confirmation the operator must pass before costly work.
type Gate struct {
	Message string
	Token   string
	// Strict gates are never skipped and require an interactive operator.
	Strict bool
}

// Prompter asks the operator to acknowledge a gate. Any answer other than
// the gate's token is a refusal and yields ErrNotConfirmed.
type Prompter interface {
	Confirm(g Gate) error
}

// LinePrompter reads typed acknowledgments line by line.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer
	// Interactive reports whether In is attached to a human. Strict gates
	// are refused when it returns false. Nil means interactive.
	Interactive func() bool

	reader *bufio.Reader
}

// Confirm implements Prompter.
func (p *LinePrompter) Confirm(g Gate) error {
	if g.Strict && p.Interactive != nil && !p.Interactive() {
		return fmt.Errorf("%w: an interactive terminal is required", ErrNotConfirmed)
	}
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}

	if p.Out != nil {
		_, _ = fmt.Fprintf(p.Out, "%s\nType '%s' to continue: ", g.Message, g.Token)
	}

	line, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	token := strings.TrimSpace(g.Token)
	if token == "" || !strings.EqualFold(strings.TrimSpace(line), token) {
		return ErrNotConfirmed
	}
	return nil
}
