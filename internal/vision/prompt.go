package vision

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an attendance-verification AI for an event platform called EventLens.

You will receive a photo that a person claims was taken at a live event.

Your job:
1. Determine if the photo appears to be taken LIVE at an indoor or outdoor event or venue.
2. Look for signs of a real environment: people, signage, stage, seating, lighting, badges, lanyards.
3. Reject screenshots, stock photos, AI-generated images, photos of screens, or obviously staged images.

confidence = how confident you are that this is a GENUINE live attendance photo.
- 90-100: clearly at a real event, strong visual signals
- 70-89: likely at an event but some ambiguity
- 40-69: uncertain, could be faked
- 0-39: likely fake or a screenshot`

const replyFormat = `Respond with ONLY a JSON object, no markdown:
{"confidence": <integer 0-100>, "reason": "<one short sentence>"%s}`

const venueField = `, "venue_match": <true if the photo shows the same venue as the reference photos, false otherwise>`

func buildPrompt(eventName, location string, withReferences bool) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "The person claims this photo was taken at the event %q", eventName)
	if location != "" {
		fmt.Fprintf(&b, " at %q", location)
	}
	b.WriteString(".\n")
	if withReferences {
		b.WriteString("The images after the first are reference photos of the venue supplied by the organiser. " +
			"Compare the first image against them.\n")
	}
	field := ""
	if withReferences {
		field = venueField
	}
	fmt.Fprintf(&b, replyFormat, field)
	return b.String()
}
