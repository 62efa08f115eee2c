package providers

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

func str(input map[string]any, key string) string {
	switch v := input[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func num(input map[string]any, key string) float64 {
	switch v := input[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

func wholeSeconds(v float64) int {
	if v <= 0 {
		return 0
	}
	return int(math.Ceil(v))
}
