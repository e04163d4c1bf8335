//go:build windows

package capture

import "golang.org/x/sys/windows"

const (
	vkControl   = 0x11
	vkC         = 0x43
	keyeventfUp = 0x0002
)

var user32 = windows.NewLazySystemDLL("user32.dll")
var procKeybdEvent = user32.NewProc("keybd_event")

// platformInjector sends the control-C copy keystroke via the user32
// keybd_event primitive.
type platformInjector struct{}

func (platformInjector) InjectCopy() error {
	press(vkControl, 0)
	press(vkC, 0)
	press(vkC, keyeventfUp)
	press(vkControl, keyeventfUp)
	return nil
}

func press(vk, flags uintptr) {
	_, _, _ = procKeybdEvent.Call(vk, 0, flags, 0)
}
