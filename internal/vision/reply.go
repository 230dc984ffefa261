package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	jsonBlockPattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// extractJSON pulls the JSON object out of a model reply, accepting fenced
// blocks and bare objects surrounded by prose.
func extractJSON(content string) string {
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		return m[1]
	}
	return jsonObjectPattern.FindString(content)
}

type verdictReply struct {
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
	VenueMatch *bool    `json:"venue_match"`
}

var errMalformedReply = errors.New("malformed vision reply")

func parseVerdict(text string) (verdictReply, error) {
	raw := extractJSON(strings.TrimSpace(text))
	if raw == "" {
		return verdictReply{}, fmt.Errorf("%w: no JSON object", errMalformedReply)
	}
	var v verdictReply
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return verdictReply{}, fmt.Errorf("%w: %v", errMalformedReply, err)
	}
	if v.Confidence == nil {
		return verdictReply{}, fmt.Errorf("%w: missing confidence", errMalformedReply)
	}
	if *v.Confidence < 0 || *v.Confidence > 100 {
		return verdictReply{}, fmt.Errorf("%w: confidence %v out of range", errMalformedReply, *v.Confidence)
	}
	if v.Reason == "" {
		v.Reason = "no reason provided"
	}
	return v, nil
}

// generateContent wire types.
type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
