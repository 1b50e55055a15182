package client

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/image-annotator/pkg/types"
)

// DetectPrompt asks a vision-language model for a detection list. DetectionPrompt appends
// the image size and class list.
const DetectPrompt = `You are an object detector for an image labelling tool.

Return JSON only:
{
  "predictions": [
    {"class_name": "string", "confidence": 0.0, "bbox": {"x1": 0, "y1": 0, "x2": 0, "y2": 0}}
  ]
}

HARD RULES
- bbox coordinates are PIXELS of the image you are given, x1,y1 top-left and x2,y2 bottom-right.
- One entry per distinct object. Boxes must be tight.
- class_name must be one of the allowed classes. Skip objects of other classes.
- If nothing is found, return {"predictions": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// DetectionPrompt returns the full prompt for an image of the given size
func DetectionPrompt(width, height int, classes []string) string {
	return fmt.Sprintf("%s\n\nThe image is %d x %d pixels.\nAllowed classes: %s", DetectPrompt, width, height, strings.Join(classes, ", "))
}

// ParseModelReply parses a model's free-text reply to DetectPrompt. A reply with no JSON
// object is an error, a reply with an object but no predictions is an empty result.
// Also returns the number of malformed predictions that were skipped.
func ParseModelReply(raw string) ([]types.Prediction, int, error) {
	raw = SanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, 0, fmt.Errorf("%w: model returned non-JSON response", ErrPredictionFailed)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to parse model response: %v", ErrPredictionFailed, err)
	}
	return PredictionsFromPayload(result["predictions"])
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// SanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
