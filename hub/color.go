package hub

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Colors share saturation and lightness so that every hue stays legible on
// a light canvas.
const (
	colorSaturation = 70
	colorLightness  = 50
)

func newSessionID() string {
	return uuid.New().String()
}

func randomColor() string {
	return HueColor(rand.IntN(360))
}

// HueColor renders a hue in degrees as the CSS color assigned to sessions.
func HueColor(hue int) string {
	return fmt.Sprintf("hsl(%d, %d%%, %d%%)", ((hue%360)+360)%360, colorSaturation, colorLightness)
}
