package source

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"bookmirror/internal/models"
)

// The booking source returns dict-shaped, dynamically-keyed payloads with
// numbers and strings used interchangeably. Everything below converts those
// raw maps into typed records exactly once, at ingestion; nothing downstream
// re-inspects payloads by key name.

func rawString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func field(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func rawInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func rawBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t == "1" || strings.EqualFold(t, "true")
	default:
		return false
	}
}

// rawDate parses the source's YYYYMMDD date strings; "0", empty and missing
// values mean "unset".
func rawDate(v any, loc *time.Location) *time.Time {
	s := rawString(v)
	if s == "" || s == "0" {
		return nil
	}
	t, err := time.ParseInLocation("20060102", s, loc)
	if err != nil {
		return nil
	}
	return &t
}

// rawEpoch parses epoch-second timestamps (numeric or numeric-string).
func rawEpoch(v any, loc *time.Location) (time.Time, bool) {
	n, ok := rawInt(v)
	if !ok || n <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(n), 0).In(loc), true
}

func rawWeekdays(v any) []time.Weekday {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []time.Weekday
	for _, e := range list {
		if wd, ok := models.ParseWeekday(rawString(e)); ok {
			out = append(out, wd)
		}
	}
	return out
}

// rawTags flattens a tag list that may arrive as bare strings or as
// {"name": ...} records.
func rawTags(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, e := range list {
		switch t := e.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			if s := rawString(t["name"]); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func rawStringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range list {
		s := rawString(e)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func decodeItem(raw map[string]any, loc *time.Location) (models.Item, error) {
	id := rawString(field(raw, "item_id", "id"))
	if id == "" {
		return models.Item{}, models.Skipf(models.SkipMalformed, "item without item_id")
	}
	item := models.Item{
		ID:         id,
		SKU:        rawString(raw["sku"]),
		Name:       rawString(raw["name"]),
		CategoryID: rawString(field(raw, "category_id", "category")),
		Unlimited:  rawBool(raw["unlimited"]),
		Status:     rawString(raw["status"]),
		Visibility: rawString(raw["visibility"]),
		Repeat:     rawWeekdays(raw["repeat"]),
		Start:      rawDate(raw["start_date"], loc),
		End:        rawDate(raw["end_date"], loc),
		Tags:       rawTags(raw["tags"]),
	}
	if n, ok := rawInt(raw["stock"]); ok {
		item.Stock = &n
	}
	return item, nil
}

func decodeItemEvent(raw map[string]any, loc *time.Location) (models.ItemEvent, error) {
	id := rawString(field(raw, "event_id", "id"))
	if id == "" {
		return models.ItemEvent{}, models.Skipf(models.SkipMalformed, "event without event_id")
	}
	ev := models.ItemEvent{
		ID:      id,
		Enabled: rawBool(raw["enabled"]),
		Status:  rawString(raw["status"]),
		Start:   rawDate(raw["start_date"], loc),
		End:     rawDate(raw["end_date"], loc),
		Repeat:  rawWeekdays(raw["repeat"]),
	}
	if applyTo, ok := raw["apply_to"].(map[string]any); ok {
		ev.ItemIDs = rawStringList(applyTo["item_id"])
		ev.CategoryIDs = rawStringList(applyTo["category_id"])
	}
	return ev, nil
}

func decodeBookingRef(raw map[string]any) (models.BookingRef, error) {
	code := rawString(field(raw, "code", "booking_id"))
	if code == "" {
		return models.BookingRef{}, models.Skipf(models.SkipMalformed, "booking index row without code")
	}
	return models.BookingRef{
		Code:       code,
		CustomerID: rawString(raw["customer_id"]),
		StatusID:   rawString(raw["status_id"]),
	}, nil
}

// lineReserved are the keys consumed into typed BookingLine fields; the rest
// pass through in Extra.
var lineReserved = map[string]bool{
	"sku": true, "qty": true, "status_id": true,
	"start_date": true, "end_date": true, "param": true,
}

func decodeBookingLine(bookingID, lineID string, raw map[string]any, loc *time.Location) models.BookingLine {
	line := models.BookingLine{
		BookingID: bookingID,
		LineID:    lineID,
		SKU:       rawString(raw["sku"]),
		StatusID:  rawString(raw["status_id"]),
	}
	if qty, ok := rawInt(raw["qty"]); ok {
		line.Qty = qty
	}
	if t, ok := rawEpoch(raw["start_date"], loc); ok {
		line.Start = t
	}
	if t, ok := rawEpoch(raw["end_date"], loc); ok {
		line.End = t
	}
	if params, ok := raw["param"].(map[string]any); ok {
		line.Params = make(map[string]int, len(params))
		for key, p := range params {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if qty, ok := rawInt(pm["qty"]); ok {
				line.Params[key] = qty
			}
		}
	}
	extra := make(map[string]any)
	for k, v := range raw {
		if !lineReserved[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		line.Extra = models.NormalizeMap(extra)
	}
	return line
}

func decodeCustomer(raw map[string]any) (*models.Customer, error) {
	id := rawString(field(raw, "customer_id", "id"))
	if id == "" {
		return nil, models.Skipf(models.SkipMalformed, "customer without id")
	}
	cust := &models.Customer{
		ID:    id,
		Name:  rawString(raw["name"]),
		Email: rawString(raw["email"]),
		Phone: rawString(raw["phone"]),
	}
	if meta, ok := raw["meta"].(map[string]any); ok {
		cust.Meta = make(map[string]string, len(meta))
		for k, v := range meta {
			cust.Meta[k] = rawString(v)
		}
	}
	return cust, nil
}

// sortedKeys returns the keys of a numerically keyed payload map in
// ascending key order, matching the source's index ordering.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// sortedMapValues returns the map-shaped values in ascending key order.
func sortedMapValues(m map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		if row, ok := m[k].(map[string]any); ok {
			out = append(out, row)
		}
	}
	return out
}
