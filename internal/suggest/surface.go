// Package suggest composes scoring, reinforcement resolution and cooldown into
// the per-surface suggestion response.
package suggest

import (
	"fmt"
	"strings"

	"github.com/thebtf/suggestd/pkg/models"
)

// Surface is the per-surface strategy the engine is parameterized with.
type Surface struct {
	// Text picks the comparison text of an item from its title and description.
	Text func(title, description string) string
	// Name is the surface identifier, also the cooldown namespace prefix.
	Name models.Surface
}

func titleOnly(title, _ string) string {
	return title
}

func titleAndDescription(title, description string) string {
	return strings.TrimSpace(title + " " + description)
}

var surfaces = map[models.Surface]Surface{
	// Insight titles are short headlines; the body carries the meaning.
	models.SurfaceInsight: {Name: models.SurfaceInsight, Text: titleAndDescription},
	models.SurfaceGoal:    {Name: models.SurfaceGoal, Text: titleOnly},
	models.SurfaceHabit:   {Name: models.SurfaceHabit, Text: titleOnly},
}

// SurfaceFor returns the strategy for a surface.
func SurfaceFor(name models.Surface) (Surface, error) {
	s, ok := surfaces[name]
	if !ok {
		return Surface{}, fmt.Errorf("%w: %q", models.ErrUnknownSurface, name)
	}
	return s, nil
}

// Mode selects which stream a request returns.
type Mode string

const (
	// ModeNew returns the merged list of reinforcements and new candidates.
	ModeNew Mode = "new"
	// ModeReinforcements returns only the cooldown-filtered reinforcement records.
	ModeReinforcements Mode = "reinforcements"
)

// ParseMode validates a mode name. The empty string selects ModeNew.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeNew:
		return ModeNew, nil
	case ModeReinforcements:
		return ModeReinforcements, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}
