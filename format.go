package castrilha

import (
	"html"
	"regexp"
	"strings"
)

var (
	markupTag     = regexp.MustCompile(`<[^>]*>`)
	danglingTag   = regexp.MustCompile(`<[^>]*$`)
	spaceRun      = regexp.MustCompile(`[\s\x{00a0}]+`)
	frameTerminal = "\n"
)

// StripMarkup removes every <...> tag from a routing-service instruction,
// unescapes entities and collapses whitespace. Line breaks are folded into
// spaces so the result never contains the frame terminator.
func StripMarkup(raw string) string {
	s := markupTag.ReplaceAllString(raw, " ")
	s = danglingTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Formatter converts steps into device frames: UTF-8 text terminated by
// exactly one newline.
type Formatter struct {
	// AppendDistance adds " (distanceText)" when the step carries one.
	AppendDistance bool
}

// Format returns the frame for step. It never fails; a step with no usable
// text frames as a lone newline.
func (f Formatter) Format(step Step) []byte {
	text := step.CleanInstruction()
	if f.AppendDistance {
		if d := StripMarkup(step.DistanceText); d != "" {
			if text == "" {
				text = "(" + d + ")"
			} else {
				text += " (" + d + ")"
			}
		}
	}
	return frame(text)
}

// FormatText frames an arbitrary message such as the arrival notice.
func (f Formatter) FormatText(text string) []byte {
	return frame(StripMarkup(text))
}

func frame(text string) []byte {
	b := make([]byte, 0, len(text)+len(frameTerminal))
	b = append(b, text...)
	return append(b, frameTerminal...)
}
