package devlink

import "strings"

// keyCodes maps key names to the codes the device firmware understands.
// Letters map to their ASCII value; modifiers and specials use the
// firmware's extended code page.
var keyCodes = map[string]byte{
	"space":     32,
	"?":         63,
	"ctrl":      128,
	"shift":     129,
	"alt":       130,
	"enter":     176,
	"esc":       177,
	"backspace": 178,
	"f1":        194,
	"f2":        195,
	"f3":        196,
	"f4":        197,
	"f5":        198,
	"f6":        199,
	"f7":        200,
	"f8":        201,
	"f9":        202,
	"f10":       203,
	"f11":       204,
	"f12":       205,
	"right":     215,
	"left":      216,
	"down":      217,
	"up":        218,
}

// KeyCode resolves a key name to its device code. Single letters resolve to
// their lowercase ASCII value.
func KeyCode(name string) (byte, bool) {
	sanitized := strings.ToLower(name)
	if code, ok := keyCodes[sanitized]; ok {
		return code, true
	}
	if len(sanitized) == 1 && sanitized[0] >= 'a' && sanitized[0] <= 'z' {
		return sanitized[0], true
	}
	return 0, false
}
