package client

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/menta2k/image-annotator/pkg/types"
)

var validate = validator.New()

// corners is a bbox after type coercion, before it becomes a types.Corners
type corners struct {
	X1 float64
	Y1 float64
	X2 float64 `validate:"gtfield=X1"`
	Y2 float64 `validate:"gtfield=Y1"`
}

// PredictionsFromPayload converts an untyped JSON value (as produced by json.Unmarshal into any)
// into predictions. The value must be a list. Entries whose bbox is missing or degenerate are
// skipped. class_id may be a number or a numeric string, and bbox may be an object with
// x1,y1,x2,y2 or a four element list.
func PredictionsFromPayload(v any) ([]types.Prediction, int, error) {
	if v == nil {
		return []types.Prediction{}, 0, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, 0, fmt.Errorf("%w: predictions is %T, not a list", ErrPredictionFailed, v)
	}
	out := make([]types.Prediction, 0, len(list))
	skipped := 0
	for _, item := range list {
		p, err := predictionFromItem(item)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, p)
	}
	return out, skipped, nil
}

func predictionFromItem(item any) (types.Prediction, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return types.Prediction{}, fmt.Errorf("prediction is %T", item)
	}
	var p types.Prediction
	if id, ok := toInt(m["class_id"]); ok {
		p.ClassID = &id
	}
	if name, ok := m["class_name"].(string); ok {
		p.ClassName = strings.TrimSpace(name)
	}
	if c, ok := toFloat(m["confidence"]); ok {
		p.Confidence = c
	}

	var c corners
	switch b := m["bbox"].(type) {
	case map[string]any:
		var ok1, ok2, ok3, ok4 bool
		c.X1, ok1 = toFloat(b["x1"])
		c.Y1, ok2 = toFloat(b["y1"])
		c.X2, ok3 = toFloat(b["x2"])
		c.Y2, ok4 = toFloat(b["y2"])
		if !(ok1 && ok2 && ok3 && ok4) {
			return p, fmt.Errorf("incomplete bbox")
		}
	case []any:
		if len(b) != 4 {
			return p, fmt.Errorf("bbox has %v elements", len(b))
		}
		vals := [4]float64{}
		for i := range b {
			f, ok := toFloat(b[i])
			if !ok {
				return p, fmt.Errorf("bbox element %v is not a number", i)
			}
			vals[i] = f
		}
		c = corners{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]}
	default:
		return p, fmt.Errorf("missing bbox")
	}
	if err := validate.Struct(c); err != nil {
		return p, err
	}
	p.BBox = types.Corners{X1: c.X1, Y1: c.Y1, X2: c.X2, Y2: c.Y2}
	return p, nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
