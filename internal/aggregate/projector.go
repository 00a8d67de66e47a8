package aggregate

import (
	"sort"
	"strings"
	"time"

	"bookmirror/internal/config"
	"bookmirror/internal/models"
)

// Projection is the serialization-ready view of one slot. The JSON shape is
// the export contract; the unexported-to-JSON fields carry what the calendar
// layer needs beyond it.
type Projection struct {
	SKU             string                 `json:"sku"`
	Date            string                 `json:"date"`
	Start           string                 `json:"start"`
	End             string                 `json:"end"`
	Unlimited       bool                   `json:"unlimited"`
	TotalPlaces     *int                   `json:"total_places"`
	TotalBooked     int                    `json:"total_booked"`
	AvailablePlaces *int                   `json:"available_places"`
	ParamTotals     map[string]int         `json:"param_totals"`
	GroupTotals     map[string]GroupRollup `json:"group_totals"`
	Tags            []string               `json:"tags"`
	Bookings        []map[string]any       `json:"bookings"`
	Customers       []CustomerRecord       `json:"customers"`

	StartTime  time.Time `json:"-"`
	EndTime    time.Time `json:"-"`
	ItemName   string    `json:"-"`
	CategoryID string    `json:"-"`
}

// GroupRollup accumulates booked quantity and contact emails per group.
type GroupRollup struct {
	TotalQty int      `json:"total_qty"`
	Emails   []string `json:"emails"`
}

// CustomerRecord is the projected customer view.
type CustomerRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Projector turns slot aggregates into ordered projections, applying the
// per-SKU time-of-day rules exactly once.
type Projector struct {
	rules    *config.TimeRules
	groupKey string
	emailKey string
}

// NewProjector constructs a projector. groupKey and emailKey name the booking
// line extras used for group rollups.
func NewProjector(rules *config.TimeRules, groupKey, emailKey string) *Projector {
	return &Projector{rules: rules, groupKey: groupKey, emailKey: emailKey}
}

// Project flattens the slot map into a deterministic list: undated
// placeholders first, then by start instant, SKU and date.
func (p *Projector) Project(slots map[Key]*Slot) []Projection {
	out := make([]Projection, 0, len(slots))
	for _, slot := range slots {
		out = append(out, p.project(slot))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.StartTime.IsZero() != b.StartTime.IsZero() {
			return a.StartTime.IsZero()
		}
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		if a.SKU != b.SKU {
			return a.SKU < b.SKU
		}
		return a.Date < b.Date
	})
	return out
}

func (p *Projector) project(slot *Slot) Projection {
	start, end := slot.Start, slot.End
	if p.rules != nil {
		category := ""
		if slot.Item != nil {
			category = slot.Item.CategoryID
		}
		if rule := p.rules.RuleFor(slot.SKU, category); rule != nil {
			start, end = rule.Apply(start, end)
		}
	}

	booked := slot.TotalBooked()

	proj := Projection{
		SKU:         slot.SKU,
		Date:        slot.Date,
		Start:       start.Format(time.RFC3339),
		End:         end.Format(time.RFC3339),
		Unlimited:   slot.Unlimited,
		TotalBooked: booked,
		ParamTotals: map[string]int{},
		GroupTotals: map[string]GroupRollup{},
		Tags:        []string{},
		Bookings:    []map[string]any{},
		Customers:   []CustomerRecord{},
		StartTime:   start,
		EndTime:     end,
	}

	if slot.Item != nil {
		proj.ItemName = slot.Item.Name
		proj.CategoryID = slot.Item.CategoryID
		if len(slot.Item.Tags) > 0 {
			proj.Tags = append(proj.Tags, slot.Item.Tags...)
		}
	}

	if !slot.Unlimited {
		capacity := 0
		if slot.Capacity != nil {
			capacity = *slot.Capacity
		}
		proj.TotalPlaces = slot.Capacity
		// Overbooking shows up as a negative remainder on purpose.
		avail := capacity - booked
		proj.AvailablePlaces = &avail
	}

	groupEmails := map[string]map[string]struct{}{}
	for _, line := range slot.Lines {
		proj.Bookings = append(proj.Bookings, p.bookingRow(line))

		for param, qty := range line.Params {
			proj.ParamTotals[param] += qty
		}

		// Group label and contact email live on the customer's meta bag,
		// not the line itself.
		group := "Unknown"
		email := ""
		if line.CustomerID != "" {
			if cust := slot.Customers[line.CustomerID]; cust != nil {
				if g := strings.TrimSpace(cust.Meta[p.groupKey]); g != "" {
					group = g
				}
				email = strings.TrimSpace(cust.Meta[p.emailKey])
			}
		}
		rollup := proj.GroupTotals[group]
		rollup.TotalQty += line.Qty
		if email != "" {
			if groupEmails[group] == nil {
				groupEmails[group] = map[string]struct{}{}
			}
			groupEmails[group][email] = struct{}{}
		}
		proj.GroupTotals[group] = rollup
	}
	for group, emails := range groupEmails {
		rollup := proj.GroupTotals[group]
		rollup.Emails = make([]string, 0, len(emails))
		for email := range emails {
			rollup.Emails = append(rollup.Emails, email)
		}
		sort.Strings(rollup.Emails)
		proj.GroupTotals[group] = rollup
	}

	ids := make([]string, 0, len(slot.Customers))
	for id := range slot.Customers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := slot.Customers[id]
		proj.Customers = append(proj.Customers, CustomerRecord{
			ID:    c.ID,
			Name:  c.Name,
			Email: strings.TrimSpace(c.Email),
			Phone: c.Phone,
		})
	}

	return proj
}

func (p *Projector) bookingRow(line models.BookingLine) map[string]any {
	row := map[string]any{
		"booking_id":  line.BookingID,
		"line_id":     line.LineID,
		"sku":         line.SKU,
		"qty":         line.Qty,
		"customer_id": line.CustomerID,
		"start":       line.Start.Format(time.RFC3339),
		"end":         line.End.Format(time.RFC3339),
	}
	for k, v := range line.Extra {
		if _, taken := row[k]; !taken {
			row[k] = v
		}
	}
	return row
}
