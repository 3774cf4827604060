package exchange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrActionFailed marks an exchange response that reports an error.
var ErrActionFailed = errors.New("exchange action failed")

// OrderStatus is the outcome of a single placed order.
type OrderStatus struct {
	OrderID  string
	Filled   float64
	AvgPrice float64
	Resting  bool
}

// ParseOrderStatus reads the first status of an order response. Top-level
// errors and per-order errors both wrap ErrActionFailed.
func ParseOrderStatus(resp map[string]any) (OrderStatus, error) {
	if resp == nil {
		return OrderStatus{}, fmt.Errorf("empty response: %w", ErrActionFailed)
	}
	if status := stringFromAny(resp["status"]); status != "ok" {
		msg := stringFromAny(resp["response"])
		if msg == "" {
			msg = status
		}
		return OrderStatus{}, fmt.Errorf("%s: %w", msg, ErrActionFailed)
	}
	body, _ := resp["response"].(map[string]any)
	data, _ := body["data"].(map[string]any)
	statuses, _ := data["statuses"].([]any)
	if len(statuses) == 0 {
		return OrderStatus{}, fmt.Errorf("no order statuses: %w", ErrActionFailed)
	}
	first, _ := statuses[0].(map[string]any)
	if msg := stringFromAny(first["error"]); msg != "" {
		return OrderStatus{}, fmt.Errorf("%s: %w", msg, ErrActionFailed)
	}
	if filled, ok := first["filled"].(map[string]any); ok {
		return OrderStatus{
			OrderID:  stringFromAny(filled["oid"]),
			Filled:   floatFromAny(filled["totalSz"]),
			AvgPrice: floatFromAny(filled["avgPx"]),
		}, nil
	}
	if resting, ok := first["resting"].(map[string]any); ok {
		return OrderStatus{OrderID: stringFromAny(resting["oid"]), Resting: true}, nil
	}
	return OrderStatus{OrderID: OrderIDFromResponse(resp)}, nil
}

// CheckResponse returns an error for non-ok responses or any per-item error
// status.
func CheckResponse(resp map[string]any) error {
	if status := stringFromAny(resp["status"]); status != "ok" {
		return fmt.Errorf("%s: %w", stringFromAny(resp["response"]), ErrActionFailed)
	}
	body, _ := resp["response"].(map[string]any)
	data, _ := body["data"].(map[string]any)
	statuses, _ := data["statuses"].([]any)
	for _, s := range statuses {
		if m, ok := s.(map[string]any); ok {
			if msg := stringFromAny(m["error"]); msg != "" {
				return fmt.Errorf("%s: %w", msg, ErrActionFailed)
			}
		}
	}
	return nil
}

func OrderIDFromResponse(resp map[string]any) string {
	if resp == nil {
		return ""
	}
	return orderIDFromAny(resp)
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func floatFromAny(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func orderIDFromAny(v any) string {
	switch val := v.(type) {
	case map[string]any:
		for _, key := range []string{"orderId", "orderID", "oid", "id"} {
			if id := stringFromAny(val[key]); id != "" {
				return id
			}
		}
		for _, nested := range val {
			if id := orderIDFromAny(nested); id != "" {
				return id
			}
		}
	case []any:
		for _, nested := range val {
			if id := orderIDFromAny(nested); id != "" {
				return id
			}
		}
	}
	return ""
}
