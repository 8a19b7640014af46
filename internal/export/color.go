package export

import (
	"image/color"
	"strings"

	"github.com/gogpu/gg"
)

// palette is the set of named stroke colours clients send.
var palette = map[string]color.NRGBA{
	"black":  {A: 255},
	"red":    {R: 255, A: 255},
	"green":  {G: 255, A: 255},
	"blue":   {B: 255, A: 255},
	"yellow": {R: 255, G: 255, A: 255},
	"white":  {R: 255, G: 255, B: 255, A: 255},
}

// ParseColor resolves a named colour or a #RGB / #RRGGBB hex string.
// Unknown values fall back to black with ok false.
func ParseColor(s string) (c color.NRGBA, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if named, found := palette[s]; found {
		return named, true
	}
	if !isHex(s) {
		return palette["black"], false
	}
	return gg.Hex(s).Color().(color.NRGBA), true
}

func isHex(s string) bool {
	if !strings.HasPrefix(s, "#") {
		return false
	}
	s = s[1:]
	if len(s) != 3 && len(s) != 6 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
