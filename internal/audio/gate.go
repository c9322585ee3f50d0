package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Gate is the operator action that unlocks sound output
type Gate interface {
	Request(ctx context.Context) (bool, error)
}

// StaticGate answers without asking, as with --arm-audio or an API request field
type StaticGate bool

func (g StaticGate) Request(context.Context) (bool, error) {
	return bool(g), nil
}

// PromptGate asks at the terminal. Enter or "y" grants, "n" or EOF declines.
type PromptGate struct {
	In  io.Reader
	Out io.Writer
}

func (g PromptGate) Request(ctx context.Context) (bool, error) {
	if _, err := fmt.Fprint(g.Out, "Enable the fire alarm sound? [Y/n] "); err != nil {
		return false, fmt.Errorf("write prompt: %w", err)
	}

	answer := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(g.In).ReadString('\n')
		if err != nil && line == "" {
			close(answer)
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-answer:
		if !ok {
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
