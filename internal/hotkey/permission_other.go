//go:build !darwin

package hotkey

// SystemPermission is always trusted outside macOS; X11 and Windows hooks do
// not need an accessibility grant.
type SystemPermission struct{}

func (SystemPermission) IsTrusted() bool { return true }

func (SystemPermission) PromptForTrust() {}
