// Package calendar reconciles desired slot entries against Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// markerProperty tags every event this service owns. The orphan pass only
// ever considers events carrying it.
const (
	markerKey   = "managed_by"
	markerValue = "bookmirror"
	slotKeyProp = "slot_key"
)

// ErrConflict reports an insert that raced an already-existing event id.
var ErrConflict = errors.New("calendar: event already exists")

// EventsAPI is the calendar surface the reconciler needs. *Client implements
// it against Google Calendar; tests substitute a fake.
type EventsAPI interface {
	List(ctx context.Context, calendarID string, timeMin, timeMax string) ([]*gcal.Event, error)
	Insert(ctx context.Context, calendarID string, ev *gcal.Event) (*gcal.Event, error)
	Patch(ctx context.Context, calendarID, eventID string, ev *gcal.Event) (*gcal.Event, error)
	Delete(ctx context.Context, calendarID, eventID string) error
}

// Client wraps the Google Calendar service with rate limiting. All mutations
// pass through the limiter so bursts of inserts stay under the API quota.
type Client struct {
	svc     *gcal.Service
	limiter *rate.Limiter
}

// NewClient builds a calendar client from a service account credentials file.
func NewClient(ctx context.Context, credentialsFile string, perSecond float64, burst int) (*Client, error) {
	svc, err := gcal.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gcal.CalendarScope),
	)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &Client{svc: svc, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}, nil
}

// List pages through all managed events in the window.
func (c *Client) List(ctx context.Context, calendarID string, timeMin, timeMax string) ([]*gcal.Event, error) {
	var out []*gcal.Event
	pageToken := ""
	for {
		call := c.svc.Events.List(calendarID).
			Context(ctx).
			SingleEvents(true).
			MaxResults(2500).
			PrivateExtendedProperty(markerKey + "=" + markerValue)
		if timeMin != "" {
			call = call.TimeMin(timeMin)
		}
		if timeMax != "" {
			call = call.TimeMax(timeMax)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		out = append(out, page.Items...)
		pageToken = page.NextPageToken
		if pageToken == "" {
			return out, nil
		}
	}
}

func (c *Client) Insert(ctx context.Context, calendarID string, ev *gcal.Event) (*gcal.Event, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	created, err := c.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 409 {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return created, nil
}

func (c *Client) Patch(ctx context.Context, calendarID, eventID string, ev *gcal.Event) (*gcal.Event, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	patched, err := c.svc.Events.Patch(calendarID, eventID, ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("patch event %s: %w", eventID, err)
	}
	return patched, nil
}

// Delete removes an event; a 404 or 410 means it is already gone and is not
// an error.
func (c *Client) Delete(ctx context.Context, calendarID, eventID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == 404 || gerr.Code == 410) {
			return nil
		}
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}
