package hotkey

import (
	"testing"

	hook "github.com/robotn/gohook"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		in     hook.Event
		want   Event
		wantOK bool
	}{
		{"key down", hook.Event{Kind: hook.KeyDown, Mask: uint16(AltR)}, Event{Kind: EventKey, Flags: AltR}, true},
		{"key up", hook.Event{Kind: hook.KeyUp, Mask: 0}, Event{Kind: EventKey}, true},
		{"key hold", hook.Event{Kind: hook.KeyHold, Mask: uint16(CtrlL | ShiftR)}, Event{Kind: EventKey, Flags: CtrlL | ShiftR}, true},
		{"disabled", hook.Event{Kind: hook.HookDisabled}, Event{Kind: EventTapDisabled}, true},
		{"mouse", hook.Event{Kind: hook.MouseDown}, Event{}, false},
		{"enabled", hook.Event{Kind: hook.HookEnabled}, Event{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := translate(tc.in)
			if ok != tc.wantOK || got != tc.want {
				t.Errorf("translate = (%+v, %v), want (%+v, %v)", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}
