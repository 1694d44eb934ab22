// Package logschema 固化关键日志事件的字段契约。
// cmd/pnl_report 按这些字段解析日志，改动字段前先改这里。
package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义一个日志事件必须携带的字段。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"fill_event": {
		Event:    "fill_event",
		Required: []string{"order_id", "side", "quantity", "fill_price", "pnl", "ts"},
	},
	"order_event": {
		Event:    "order_event",
		Required: []string{"event", "order_id", "ts"},
	},
	"grid_event": {
		Event:    "grid_event",
		Required: []string{"levels", "spacing", "volatility"},
	},
	"risk_event": {
		Event:    "risk_event",
		Required: []string{"event", "ts"},
	},
	"error_event": {
		Event:    "error_event",
		Required: []string{"error", "ts"},
	},
	"alert_event": {
		Event:    "alert_event",
		Required: []string{"level", "message"},
	},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 检查日志字段是否包含 schema 要求的 key。
// 未登记的事件直接放行。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("event %s missing fields: %s", event, strings.Join(missing, ","))
	}
	return nil
}
