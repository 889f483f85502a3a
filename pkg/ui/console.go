package ui

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/log"
	"github.com/cloudbro-ops/runguard/pkg/pipeline"
	"github.com/cloudbro-ops/runguard/pkg/safety"
)

const defaultConsoleTimeout = 60 * time.Second

// Console is a full-screen terminal surface for approving gated commands.
// It implements the pipeline's Confirmer: every request raises a modal with
// the command, its classification, and a countdown. The Deny button holds
// focus, so Enter, Escape, and an expired countdown all deny; approving
// takes a deliberate keypress.
type Console struct {
	*tview.Application

	pages     *tview.Pages
	header    *tview.TextView
	history   *tview.TextView
	statusBar *tview.TextView

	styles  config.RunguardStyles
	timeout func() time.Duration

	running  int32
	stopping int32
	seq      int64

	closeOnce sync.Once
	closed    chan struct{}

	mu         sync.Mutex
	approved   int
	denied     int
	expired    int
	hasHistory bool
}

// ConsoleOptions configures a Console.
type ConsoleOptions struct {
	// Timeout returns the wait budget for the next confirmation request.
	// Nil falls back to 60 seconds.
	Timeout func() time.Duration

	// Profile names the active gate profile for the header line. It also
	// selects the skin when Styles is nil: a paranoid profile renders
	// with red accents unless profile-skins.yaml says otherwise.
	Profile string

	// Styles overrides the theme. Nil loads the skin for the profile.
	Styles *config.StyleConfig

	// Screen overrides the terminal screen. Tests pass a tcell
	// SimulationScreen here.
	Screen tcell.Screen
}

// NewConsole builds the console UI. Call Run to enter the drawing loop.
func NewConsole(opts ConsoleOptions) *Console {
	c := &Console{
		Application: tview.NewApplication(),
		timeout:     opts.Timeout,
		closed:      make(chan struct{}),
	}
	if c.timeout == nil {
		c.timeout = func() time.Duration { return defaultConsoleTimeout }
	}
	styles := opts.Styles
	if styles == nil {
		styles, _ = config.LoadStylesForProfile(opts.Profile)
	}
	if styles == nil {
		styles = config.DefaultStyles()
	}
	c.styles = styles.Runguard
	if opts.Screen != nil {
		c.Application.SetScreen(opts.Screen)
	}
	c.setupUI(opts.Profile)
	return c
}

// setupUI initializes all UI components
func (c *Console) setupUI(profile string) {
	if profile == "" {
		profile = "normal"
	}

	// Header
	c.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft).
		SetTextColor(c.styles.Header.FgColor.ToTcellColor())
	c.header.SetBackgroundColor(c.styles.Header.BgColor.ToTcellColor())
	fmt.Fprintf(c.header, " [::b]runguard[::-] approval console   profile: %s\n"+
		" gated commands wait here until you decide or their countdown expires", profile)

	// Decision history
	c.history = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true).
		SetTextColor(c.styles.Body.FgColor.ToTcellColor())
	c.history.SetBackgroundColor(c.styles.Body.BgColor.ToTcellColor())
	c.history.SetBorder(true).
		SetTitle(" Decisions ").
		SetTitleColor(c.styles.Frame.TitleColor.ToTcellColor()).
		SetBorderColor(c.styles.Frame.BorderColor.ToTcellColor())
	c.history.SetText("[gray]No requests yet. Pending commands appear as a dialog on top of this view.")

	// Status bar
	c.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	c.statusBar.SetBackgroundColor(c.styles.StatusBar.BgColor.ToTcellColor())

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(c.header, 2, 0, false).
		AddItem(c.history, 0, 1, true).
		AddItem(c.statusBar, 1, 0, false)

	c.pages = tview.NewPages().
		AddPage("main", mainFlex, true, true)

	c.SetRoot(c.pages, true)
	c.updateStatusBar()
}

func (c *Console) updateStatusBar() {
	c.mu.Lock()
	approved, denied, expired := c.approved, c.denied, c.expired
	c.mu.Unlock()

	key := c.styles.StatusBar.KeyColor.Tag("yellow")
	text := c.styles.StatusBar.FgColor.Tag("white")
	c.statusBar.SetText(fmt.Sprintf(
		"[%[1]s]<a>[%[2]s] approve   [%[1]s]<d>[%[2]s] deny   [%[1]s]<esc>[%[2]s] deny   [%[1]s]<ctrl-c>[%[2]s] quit   [gray]approved %[3]d / denied %[4]d / expired %[5]d",
		key, text, approved, denied, expired))
}

// RequestConfirmation raises the approval dialog and blocks until a key
// decides it or the countdown runs out. The pipeline confirms sequentially,
// so at most one dialog is on screen.
func (c *Console) RequestConfirmation(cls *safety.Classification, commandText string) (bool, error) {
	wait := c.timeout()
	if wait <= 0 {
		wait = defaultConsoleTimeout
	}

	// The pipeline can ask before the first draw. Give the event loop a
	// moment so the dialog is not queued into the void.
	startBudget := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&c.running) == 0 && time.Now().Before(startBudget) {
		select {
		case <-c.closed:
			return false, errors.New("approval console closed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	response := make(chan bool, 1)
	respond := func(approved bool) {
		select {
		case response <- approved:
		default:
		}
	}

	pageID := fmt.Sprintf("approval-%d", atomic.AddInt64(&c.seq, 1))
	deadline := time.Now().Add(wait)

	modal := tview.NewModal().
		SetText(c.dialogText(cls, commandText, wait)).
		SetTextColor(c.styles.Dialog.FgColor.ToTcellColor()).
		SetButtonTextColor(c.styles.Dialog.ButtonFgColor.ToTcellColor()).
		SetButtonBackgroundColor(c.styles.Dialog.ButtonBgColor.ToTcellColor()).
		AddButtons([]string{"Deny", "Approve"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			// Escape reports buttonIndex -1 and denies.
			respond(buttonLabel == "Approve")
		})
	modal.SetBackgroundColor(c.styles.Dialog.BgColor.ToTcellColor())
	modal.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'a', 'A', 'y', 'Y':
				respond(true)
				return nil
			case 'd', 'D', 'n', 'N':
				respond(false)
				return nil
			}
		}
		return event
	})

	c.queueUpdateDraw(func() {
		c.pages.AddPage(pageID, modal, true, true)
		c.SetFocus(modal)
	})

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	expiry := time.NewTimer(wait)
	defer expiry.Stop()

	for {
		select {
		case approved := <-response:
			verdict := "denied"
			if approved {
				verdict = "approved"
			}
			c.finishRequest(pageID, commandText, verdict)
			return approved, nil

		case <-ticker.C:
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			c.queueUpdateDraw(func() {
				modal.SetText(c.dialogText(cls, commandText, remaining))
			})

		case <-expiry.C:
			c.finishRequest(pageID, commandText, "expired")
			return false, pipeline.ErrConfirmationTimeout

		case <-c.closed:
			return false, errors.New("approval console closed")
		}
	}
}

// finishRequest removes the dialog and appends the decision to the history.
func (c *Console) finishRequest(pageID, commandText, verdict string) {
	c.mu.Lock()
	switch verdict {
	case "approved":
		c.approved++
	case "expired":
		c.expired++
	default:
		c.denied++
	}
	first := !c.hasHistory
	c.hasHistory = true
	c.mu.Unlock()

	color := "red"
	switch verdict {
	case "approved":
		color = "green"
	case "expired":
		color = "yellow"
	}
	line := fmt.Sprintf("[gray]%s[white]  [%s]%s[white]  %s",
		time.Now().Format("15:04:05"), color, strings.ToUpper(verdict), tview.Escape(commandText))

	c.queueUpdateDraw(func() {
		c.pages.RemovePage(pageID)
		c.SetFocus(c.history)
		if first {
			c.history.SetText("")
		} else {
			fmt.Fprintln(c.history)
		}
		fmt.Fprint(c.history, line)
		c.history.ScrollToEnd()
		c.updateStatusBar()
	})
}

func (c *Console) dialogText(cls *safety.Classification, commandText string, remaining time.Duration) string {
	level := "unclassified"
	var pattern, reason string
	var warnings []string
	if cls != nil {
		level = cls.Level.String()
		pattern = cls.Pattern
		reason = cls.Reason
		warnings = cls.Warnings
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]%s RISK[-]\n\n%s",
		c.styles.Risk.ForLevel(level).Tag("red"), strings.ToUpper(level), tview.Escape(commandText))
	if pattern != "" {
		fmt.Fprintf(&b, "\n\nmatched: %s", tview.Escape(pattern))
	}
	if reason != "" {
		fmt.Fprintf(&b, "\n%s", tview.Escape(reason))
	}
	for _, w := range warnings {
		fmt.Fprintf(&b, "\n[yellow]! %s[white]", tview.Escape(w))
	}
	fmt.Fprintf(&b, "\n\nDenied automatically in %ds.", int(remaining.Seconds()))
	return b.String()
}

// queueUpdateDraw posts a UI update unless the loop is not serving them.
// A skipped update only costs a repaint, never a decision: confirmations
// resolve through channels, not through the draw queue.
func (c *Console) queueUpdateDraw(f func()) {
	if atomic.LoadInt32(&c.stopping) == 1 || atomic.LoadInt32(&c.running) == 0 {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Application.QueueUpdateDraw(f)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}
}

// IsRunning reports whether the drawing loop is serving updates.
func (c *Console) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1 && atomic.LoadInt32(&c.stopping) == 0
}

// Run enters the drawing loop and blocks until Stop or Ctrl-C.
func (c *Console) Run() error {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Approval console panic: %v\n%s", r, debug.Stack())
			fmt.Fprintf(os.Stderr, "\napproval console crashed: %v\n", r)
		}
	}()
	defer func() {
		atomic.StoreInt32(&c.stopping, 1)
		atomic.StoreInt32(&c.running, 0)
		c.closeOnce.Do(func() { close(c.closed) })
	}()

	c.SetAfterDrawFunc(func(screen tcell.Screen) {
		c.SetAfterDrawFunc(nil)
		atomic.StoreInt32(&c.running, 1)
	})

	return c.Application.Run()
}

// Stop ends the drawing loop. A pending confirmation resolves as denied
// with a console-closed error rather than waiting out its countdown.
func (c *Console) Stop() {
	atomic.StoreInt32(&c.stopping, 1)
	c.closeOnce.Do(func() { close(c.closed) })
	c.Application.Stop()
}
