package authflow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// LinePrompter reads the email from one line of input.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p *LinePrompter) PromptEmail(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintln(p.Out, "This sign-in link was opened on a different device.")
	fmt.Fprint(p.Out, "Confirm the email address the link was sent to: ")

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read email: %w", err)
	}
	return strings.TrimSpace(line), nil
}
