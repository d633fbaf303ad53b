package confirmation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"db-backup/internal/display"
)

// ConfirmationService asks the operator before destructive store operations
type ConfirmationService interface {
	// Confirm shows the question with the affected items and waits for y/N.
	// autoApprove skips the prompt.
	Confirm(ctx context.Context, question string, items []string, autoApprove bool) (bool, error)
}

// confirmationService implements the ConfirmationService interface
type confirmationService struct {
	colors display.ColorSystem
	reader *bufio.Reader
	out    io.Writer
}

// NewConfirmationService creates a service reading answers from in
func NewConfirmationService(in io.Reader, out io.Writer, colors display.ColorSystem) ConfirmationService {
	if colors == nil {
		colors = display.NewColorSystem(out, display.PlainTextTheme())
	}
	return &confirmationService{
		colors: colors,
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// maxListed caps the items printed before the prompt
const maxListed = 20

func (cs *confirmationService) Confirm(ctx context.Context, question string, items []string, autoApprove bool) (bool, error) {
	theme := cs.colors.Theme()
	for i, item := range items {
		if i == maxListed {
			fmt.Fprintf(cs.out, "  ... and %d more\n", len(items)-maxListed)
			break
		}
		fmt.Fprintf(cs.out, "  - %s\n", item)
	}

	if autoApprove {
		fmt.Fprintln(cs.out, cs.colors.Sprint(theme.Success, "Auto-approving..."))
		return true, nil
	}

	inputChan := make(chan string, 1)
	errorChan := make(chan error, 1)
	go func() {
		input, err := cs.promptForConfirmation(question)
		if err != nil {
			errorChan <- err
			return
		}
		inputChan <- input
	}()

	// Wait for either user input or cancellation
	select {
	case <-ctx.Done():
		fmt.Fprintln(cs.out, "\n"+cs.colors.Sprint(theme.Warning, "Operation cancelled"))
		return false, ctx.Err()
	case err := <-errorChan:
		return false, fmt.Errorf("failed to read user input: %w", err)
	case input := <-inputChan:
		return parseConfirmationInput(input), nil
	}
}

func (cs *confirmationService) promptForConfirmation(question string) (string, error) {
	fmt.Fprint(cs.out, cs.colors.Sprint(cs.colors.Theme().Warning, question+" [y/N]: "))

	input, err := cs.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && input != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(input), nil
}

// parseConfirmationInput accepts y/yes in any case; everything else declines
func parseConfirmationInput(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
