//go:build darwin

package hotkey

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>

static int typelessIsTrusted(void) {
	return AXIsProcessTrusted() ? 1 : 0;
}

static void typelessPromptForTrust(void) {
	const void *keys[] = { kAXTrustedCheckOptionPrompt };
	const void *values[] = { kCFBooleanTrue };
	CFDictionaryRef opts = CFDictionaryCreate(kCFAllocatorDefault, keys, values, 1,
		&kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
	AXIsProcessTrustedWithOptions(opts);
	CFRelease(opts);
}
*/
import "C"

// SystemPermission checks the macOS accessibility permission.
type SystemPermission struct{}

// IsTrusted reports whether the process may observe global key events.
func (SystemPermission) IsTrusted() bool {
	return C.typelessIsTrusted() == 1
}

// PromptForTrust opens the system dialog that sends the user to the
// accessibility settings.
func (SystemPermission) PromptForTrust() {
	C.typelessPromptForTrust()
}
