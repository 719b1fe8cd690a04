package inject

import (
	"fmt"
	"runtime"

	"github.com/atotto/clipboard"
	"github.com/go-vgo/robotgo"
)

// Clipboard reads and writes the system clipboard as text.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// Keyboard synthesizes key presses in the focused application.
type Keyboard interface {
	// Paste sends the platform paste shortcut.
	Paste() error
	Backspace() error
	Type(text string) error
}

// SystemClipboard is the OS clipboard.
type SystemClipboard struct{}

func (SystemClipboard) ReadText() (string, error) { return clipboard.ReadAll() }

func (SystemClipboard) WriteText(text string) error { return clipboard.WriteAll(text) }

// RobotKeyboard synthesizes keys through robotgo.
type RobotKeyboard struct{}

// pasteModifier is cmd on macOS and ctrl elsewhere.
func pasteModifier() string {
	if runtime.GOOS == "darwin" {
		return "cmd"
	}
	return "ctrl"
}

func (RobotKeyboard) Paste() error {
	if err := robotgo.KeyTap("v", pasteModifier()); err != nil {
		return fmt.Errorf("inject: paste: %w", err)
	}
	return nil
}

func (RobotKeyboard) Backspace() error {
	if err := robotgo.KeyTap("backspace"); err != nil {
		return fmt.Errorf("inject: backspace: %w", err)
	}
	return nil
}

func (RobotKeyboard) Type(text string) error {
	robotgo.TypeStr(text)
	return nil
}
