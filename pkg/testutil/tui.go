package testutil

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
)

// Terminal wraps a tcell simulation screen with helpers for driving
// full-screen components in tests.
type Terminal struct {
	t      *testing.T
	screen tcell.SimulationScreen
	mu     sync.Mutex
}

// NewTerminal creates a test terminal backed by a simulation screen.
func NewTerminal(t *testing.T) *Terminal {
	t.Helper()
	screen := tcell.NewSimulationScreen("")
	if err := screen.Init(); err != nil {
		t.Fatalf("Failed to init simulation screen: %v", err)
	}
	screen.SetSize(120, 40)
	return &Terminal{t: t, screen: screen}
}

// Screen returns the underlying simulation screen.
func (term *Terminal) Screen() tcell.SimulationScreen {
	return term.screen
}

// Write types text into the terminal.
func (term *Terminal) Write(text string) {
	term.mu.Lock()
	defer term.mu.Unlock()
	for _, r := range text {
		term.screen.InjectKey(tcell.KeyRune, r, tcell.ModNone)
		time.Sleep(5 * time.Millisecond)
	}
}

// KeyEnter sends Enter.
func (term *Terminal) KeyEnter() {
	term.Key(tcell.KeyEnter)
}

// KeyEscape sends Escape.
func (term *Terminal) KeyEscape() {
	term.Key(tcell.KeyEscape)
}

// KeyTab sends Tab.
func (term *Terminal) KeyTab() {
	term.Key(tcell.KeyTab)
}

// Key sends a specific key.
func (term *Terminal) Key(key tcell.Key) {
	term.mu.Lock()
	defer term.mu.Unlock()
	term.screen.InjectKey(key, 0, tcell.ModNone)
	time.Sleep(10 * time.Millisecond)
}

// GetContent returns the current screen content as a string.
func (term *Terminal) GetContent() string {
	term.mu.Lock()
	defer term.mu.Unlock()

	w, h := term.screen.Size()
	var content strings.Builder
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := term.screen.GetContent(x, y)
			if r == 0 {
				content.WriteRune(' ')
			} else {
				content.WriteRune(r)
			}
		}
		content.WriteRune('\n')
	}
	return content.String()
}

// Fini releases the simulation screen.
func (term *Terminal) Fini() {
	term.screen.Fini()
}

// Expect provides auto-waiting assertions over a terminal.
type Expect struct {
	t       *testing.T
	timeout time.Duration
}

// NewExpect creates an expect instance with a 5 second wait budget.
func NewExpect(t *testing.T) *Expect {
	return &Expect{t: t, timeout: 5 * time.Second}
}

// ToContain waits for the content to contain text.
func (e *Expect) ToContain(term *Terminal, text string) {
	e.t.Helper()
	deadline := time.Now().Add(e.timeout)
	for time.Now().Before(deadline) {
		if strings.Contains(term.GetContent(), text) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	e.t.Errorf("Expected content to contain: %q\nActual content:\n%s", text, term.GetContent())
}

// NotToContain waits for the content to stop containing text.
func (e *Expect) NotToContain(term *Terminal, text string) {
	e.t.Helper()
	deadline := time.Now().Add(e.timeout)
	for time.Now().Before(deadline) {
		if !strings.Contains(term.GetContent(), text) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	e.t.Errorf("Expected content to not contain: %q\nActual content:\n%s", text, term.GetContent())
}
