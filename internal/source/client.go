package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bookmirror/internal/models"
)

// Config holds booking-source connection settings.
type Config struct {
	Host      string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client is a read-only HTTP client for the booking source. All reads are
// idempotent GETs; pagination is always fully drained before returning.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
	loc        *time.Location
	logger     *zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a source client. Times in decoded records are
// expressed in loc.
func NewClient(cfg Config, loc *time.Location, logger *zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userpass := cfg.APIKey + ":" + cfg.APISecret
	return &Client{
		baseURL:    strings.TrimRight(cfg.Host, "/"),
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(userpass)),
		httpClient: &http.Client{Timeout: timeout},
		loc:        loc,
		logger:     logger,
	}
}

// UseRedisCache configures optional read-through caching for GET endpoints.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// ListItems fetches the full item catalog.
func (c *Client) ListItems(ctx context.Context) ([]models.Item, error) {
	var payload struct {
		Items map[string]any `json:"items"`
	}
	if err := c.get(ctx, "/api/3.0/item", nil, "items", &payload); err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, len(payload.Items))
	for _, raw := range sortedMapValues(payload.Items) {
		item, err := decodeItem(raw, c.loc)
		if err != nil {
			c.warnSkip(err, "item")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// ListItemEvents fetches all item events, draining every page.
func (c *Client) ListItemEvents(ctx context.Context) ([]models.ItemEvent, error) {
	var events []models.ItemEvent
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("limit", "1000")
		params.Set("page", fmt.Sprint(page))

		var payload struct {
			Events  map[string]any `json:"events"`
			Request pageMeta       `json:"request"`
		}
		if err := c.get(ctx, "/api/3.0/event", params, "", &payload); err != nil {
			return nil, err
		}
		for _, raw := range sortedMapValues(payload.Events) {
			ev, err := decodeItemEvent(raw, c.loc)
			if err != nil {
				c.warnSkip(err, "event")
				continue
			}
			events = append(events, ev)
		}
		if page >= payload.Request.pages() {
			break
		}
	}
	return events, nil
}

// ListBookings fetches the booking index for the date range, draining every
// page.
func (c *Client) ListBookings(ctx context.Context, start, end time.Time) ([]models.BookingRef, error) {
	var refs []models.BookingRef
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("start_date", start.Format("2006-01-02"))
		params.Set("end_date", end.Format("2006-01-02"))
		params.Set("limit", "100")
		params.Set("page", fmt.Sprint(page))

		var payload struct {
			Index   map[string]any `json:"booking/index"`
			Request pageMeta       `json:"request"`
		}
		if err := c.get(ctx, "/api/3.0/booking/index", params, "", &payload); err != nil {
			return nil, err
		}
		for _, raw := range sortedMapValues(payload.Index) {
			ref, err := decodeBookingRef(raw)
			if err != nil {
				c.warnSkip(err, "booking_ref")
				continue
			}
			refs = append(refs, ref)
		}
		if page >= payload.Request.pages() {
			break
		}
	}
	return refs, nil
}

// GetBookingLines fetches a booking's detail and returns its line items.
func (c *Client) GetBookingLines(ctx context.Context, code string) ([]models.BookingLine, error) {
	var payload struct {
		Booking map[string]any `json:"booking"`
	}
	path := "/api/3.0/booking/" + url.PathEscape(code)
	if err := c.get(ctx, path, nil, "booking:"+code, &payload); err != nil {
		return nil, err
	}
	if payload.Booking == nil {
		return nil, models.Skipf(models.SkipMalformed, "booking %s without body", code)
	}

	rawLines, _ := payload.Booking["items"].(map[string]any)
	lines := make([]models.BookingLine, 0, len(rawLines))
	for _, lineID := range sortedKeys(rawLines) {
		raw, ok := rawLines[lineID].(map[string]any)
		if !ok {
			continue
		}
		lines = append(lines, decodeBookingLine(code, lineID, raw, c.loc))
	}
	return lines, nil
}

// GetCustomer fetches one customer record. A missing customer is reported as
// a skip outcome, not a hard failure.
func (c *Client) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var payload struct {
		Customer map[string]any `json:"customer"`
	}
	path := "/api/3.0/customer/" + url.PathEscape(id)
	if err := c.get(ctx, path, nil, "customer:"+id, &payload); err != nil {
		return nil, err
	}
	if payload.Customer == nil {
		return nil, models.Skipf(models.SkipNotFound, "customer %s not found", id)
	}
	return decodeCustomer(payload.Customer)
}

type pageMeta struct {
	Pages any `json:"pages"`
}

func (m pageMeta) pages() int {
	if n, ok := rawInt(m.Pages); ok && n > 0 {
		return n
	}
	return 1
}

func (c *Client) get(ctx context.Context, path string, params url.Values, cacheKey string, out any) error {
	if cacheKey != "" && c.readCache(ctx, cacheKey, out) {
		return nil
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("User-Agent", "bookmirror/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("source %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Decode as an empty body; callers turn it into a skip outcome.
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("source %s: http %d", path, resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("source %s: invalid json: %w", path, err)
	}
	if cacheKey != "" {
		c.writeCache(ctx, cacheKey, out)
	}
	return nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, "bookmirror:"+key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, "bookmirror:"+key, data, c.cacheTTL).Err()
}

func (c *Client) warnSkip(err error, record string) {
	if c.logger == nil {
		return
	}
	if se, ok := models.AsSkip(err); ok {
		c.logger.Warn().Str("record", record).Str("reason", se.Reason).Msg(se.Detail)
		return
	}
	c.logger.Warn().Str("record", record).Err(err).Msg("record skipped")
}

