package application

import (
	"fmt"
	"strconv"
	"strings"

	telemetry "roomwatch/internal/telemetry/domain"
)

var messageParts = []struct {
	metric string
	format string
}{
	{telemetry.MetricTempF, "temp %s°F"},
	{telemetry.MetricRH, "RH %s%%"},
	{telemetry.MetricTVOC, "TVOC %s ppb"},
	{telemetry.MetricECO2, "eCO₂ %s ppm"},
}

// BuildMessage renders the human-readable text of an alert event.
// Only values present in the snapshot are listed.
func BuildMessage(name, entity string, fields telemetry.Fields, count *float64) string {
	pieces := make([]string, 0, len(messageParts)+1)
	for _, part := range messageParts {
		v, ok := fields[part.metric]
		if !ok || v == nil {
			continue
		}
		pieces = append(pieces, fmt.Sprintf(part.format, formatValue(v)))
	}
	if count != nil {
		pieces = append(pieces, "count "+formatValue(*count))
	}
	msg := fmt.Sprintf("Alert %q triggered in %s", name, entity)
	if len(pieces) == 0 {
		return msg
	}
	return msg + " — " + strings.Join(pieces, ", ")
}

func formatValue(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	case string:
		return n
	default:
		return fmt.Sprint(n)
	}
}
