package hotkey

import (
	"fmt"
	"strings"
)

// Modifier is a bit set of modifier keys. The bit layout matches the
// libuiohook event mask, so raw masks reported by the keyboard hook can be
// tested against a Modifier without translation.
type Modifier uint16

const (
	ShiftL Modifier = 1 << iota
	CtrlL
	MetaL
	AltL
	ShiftR
	CtrlR
	MetaR
	AltR

	Shift = ShiftL | ShiftR
	Ctrl  = CtrlL | CtrlR
	Meta  = MetaL | MetaR
	Alt   = AltL | AltR
)

var modifierNames = map[string]Modifier{
	"shift":    Shift,
	"shift_l":  ShiftL,
	"shift_r":  ShiftR,
	"ctrl":     Ctrl,
	"ctrl_l":   CtrlL,
	"ctrl_r":   CtrlR,
	"control":  Ctrl,
	"alt":      Alt,
	"alt_l":    AltL,
	"alt_r":    AltR,
	"option":   Alt,
	"option_l": AltL,
	"option_r": AltR,
	"meta":     Meta,
	"meta_l":   MetaL,
	"meta_r":   MetaR,
	"cmd":      Meta,
	"cmd_l":    MetaL,
	"cmd_r":    MetaR,
	"super":    Meta,
}

// ParseModifier resolves a trigger name such as "alt_r" or "ctrl". Names are
// case-insensitive. A name without a side matches either key.
func ParseModifier(name string) (Modifier, error) {
	m, ok := modifierNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("hotkey: unknown modifier %q", name)
	}
	return m, nil
}

// In reports whether any key of m is held in flags.
func (m Modifier) In(flags Modifier) bool {
	return flags&m != 0
}

var canonicalNames = []string{
	"shift", "shift_l", "shift_r",
	"ctrl", "ctrl_l", "ctrl_r",
	"alt", "alt_l", "alt_r",
	"meta", "meta_l", "meta_r",
}

func (m Modifier) String() string {
	for _, name := range canonicalNames {
		if modifierNames[name] == m {
			return name
		}
	}
	return fmt.Sprintf("Modifier(%#x)", uint16(m))
}
