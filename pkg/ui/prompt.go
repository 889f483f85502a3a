package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/pipeline"
	"github.com/cloudbro-ops/runguard/pkg/safety"
)

// PromptConfirmer asks for approval with a plain y/N line on the controlling
// terminal. Anything other than an explicit yes denies, as does a closed
// input or an expired wait.
//
// All reads happen on one background goroutine, so an answer typed after a
// prompt timed out is consumed by the next prompt instead of corrupting it.
type PromptConfirmer struct {
	// In and Out default to the process stdin and stdout.
	In  io.Reader
	Out io.Writer

	// Timeout bounds the wait for an answer. Zero means 60 seconds.
	Timeout time.Duration

	once  sync.Once
	lines chan string
}

func (p *PromptConfirmer) start() {
	p.once.Do(func() {
		if p.In == nil {
			p.In = os.Stdin
		}
		if p.Out == nil {
			p.Out = os.Stdout
		}
		p.lines = make(chan string)
		go func() {
			defer close(p.lines)
			scanner := bufio.NewScanner(p.In)
			for scanner.Scan() {
				p.lines <- strings.TrimSpace(scanner.Text())
			}
		}()
	})
}

// RequestConfirmation prints the command with its classification and reads
// one answer line.
func (p *PromptConfirmer) RequestConfirmation(c *safety.Classification, commandText string) (bool, error) {
	p.start()

	wait := p.Timeout
	if wait <= 0 {
		wait = defaultConsoleTimeout
	}

	level := "unclassified"
	var reason string
	var warnings []string
	if c != nil {
		level = c.Level.String()
		reason = c.Reason
		warnings = c.Warnings
	}

	fmt.Fprintf(p.Out, "\n%s risk: %s\n", strings.ToUpper(level), commandText)
	if reason != "" {
		fmt.Fprintf(p.Out, "  %s\n", reason)
	}
	for _, w := range warnings {
		fmt.Fprintf(p.Out, "  warning: %s\n", w)
	}
	fmt.Fprintf(p.Out, "Approve? [y/N] (auto-deny in %ds): ", int(wait.Seconds()))

	expiry := time.NewTimer(wait)
	defer expiry.Stop()

	select {
	case line, ok := <-p.lines:
		if !ok {
			fmt.Fprintln(p.Out, "denied (input closed)")
			return false, nil
		}
		switch strings.ToLower(line) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	case <-expiry.C:
		fmt.Fprintln(p.Out, "denied (timed out)")
		return false, pipeline.ErrConfirmationTimeout
	}
}
