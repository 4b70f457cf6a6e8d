package control

import "strings"

// categorizeKey buckets a key name into a coarse, non-identifying category
// so handlers can log "what kind of key was pressed" without ever writing
// the cleartext key to the log.
func categorizeKey(key string) string {
	switch key {
	case "Shift", "Control", "Alt", "Meta", "CapsLock", "AltGraph":
		return "modifier"
	case "Enter", "Tab", "Backspace", "Delete", "Escape":
		return "control"
	case "ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight", "Home", "End", "PageUp", "PageDown":
		return "navigation"
	}
	if len(key) >= 2 && len(key) <= 3 && strings.HasPrefix(key, "F") {
		return "function"
	}
	if len([]rune(key)) == 1 {
		return "printable"
	}
	return "other"
}
