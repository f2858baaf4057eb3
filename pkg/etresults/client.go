// Package etresults queries the eTraveler database for harnessed job
// results, file paths and hardware hierarchy information.
package etresults

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
)

// DefaultBaseURL is the front-end serving both the Prod and Dev databases.
const DefaultBaseURL = "http://lsst-camera.slac.stanford.edu/eTraveler"

// DBForRun selects the database by run number convention: runs ending in
// 'D' live in the Dev database, all others in Prod.
func DBForRun(run string) string {
	if strings.HasSuffix(run, "D") {
		return "Dev"
	}
	return "Prod"
}

// Connection is a client for one eTraveler database. Requests are retried
// with exponential backoff behind a circuit breaker, so a flaky or downed
// server fails fast instead of stalling an acquisition job.
type Connection struct {
	baseURL    string
	user       string
	dbName     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	backoffCfg func() backoff.BackOff
	logger     lg.Logger
}

// ConnOption configures a Connection.
type ConnOption func(*Connection)

// WithBaseURL overrides the server URL, e.g. for a test server.
func WithBaseURL(baseURL string) ConnOption {
	return func(c *Connection) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) ConnOption {
	return func(c *Connection) { c.httpClient = client }
}

// WithConnLogger attaches a logger for request diagnostics.
func WithConnLogger(logger lg.Logger) ConnOption {
	return func(c *Connection) { c.logger = logger }
}

// NewConnection builds a client for the named database ("Prod" or "Dev")
// on behalf of user.
func NewConnection(user, dbName string, opts ...ConnOption) *Connection {
	cbs := gobreaker.Settings{
		Name:        "etraveler-" + dbName,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	c := &Connection{
		baseURL:    DefaultBaseURL,
		user:       user,
		dbName:     dbName,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    gobreaker.NewCircuitBreaker(cbs),
		backoffCfg: func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     500 * time.Millisecond,
				MaxInterval:         5 * time.Second,
				MaxElapsedTime:      1 * time.Minute,
				Multiplier:          1.5,
				RandomizationFactor: 0.5,
				Stop:                backoff.Stop,
				Clock:               backoff.SystemClock,
			}
		},
		logger: lg.Discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DBName reports which database this connection queries.
func (c *Connection) DBName() string { return c.dbName }

// get issues one API request and decodes the JSON reply into out.
func (c *Connection) get(ctx context.Context, command string, params url.Values, out any) error {
	params.Set("user", c.user)
	reqURL := fmt.Sprintf("%s/%s/Results/%s?%s", c.baseURL, c.dbName, command, params.Encode())

	body, err := c.breaker.Execute(func() (any, error) {
		var payload []byte
		op := func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("etresults: %s: server returned %s", command, resp.Status)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return backoff.Permanent(err)
				}
				return err
			}
			payload, err = io.ReadAll(resp.Body)
			return err
		}
		notify := func(err error, wait time.Duration) {
			c.logger.Warn("retrying eTraveler request",
				lg.String("command", command),
				lg.Err(err),
				lg.Any("backoff", wait))
		}
		if err := backoff.RetryNotify(op, backoff.WithContext(c.backoffCfg(), ctx), notify); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return fmt.Errorf("etresults: %s: %w", command, err)
	}
	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return fmt.Errorf("etresults: %s: decode reply: %w", command, err)
	}
	return nil
}

// RunResults is the raw getRunResults reply. Steps maps job name to schema
// name to result entries; the first entry of each schema is the header row
// describing the schema itself.
type RunResults struct {
	Run   string                         `json:"run"`
	Steps map[string]map[string][]RawRow `json:"steps"`
}

// RawRow is one result entry keyed by schema column.
type RawRow map[string]any

// GetRunResults fetches all harnessed job results posted for a run.
func (c *Connection) GetRunResults(ctx context.Context, run string) (*RunResults, error) {
	var out RunResults
	params := url.Values{"run": {run}}
	if err := c.get(ctx, "getRunResults", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FileEntry describes one file registered by a harnessed job.
type FileEntry struct {
	OriginalPath string `json:"originalPath"`
}

// GetRunFilepaths fetches the original physical file paths registered for
// a run, keyed by job name.
func (c *Connection) GetRunFilepaths(ctx context.Context, run string) (map[string][]FileEntry, error) {
	out := make(map[string][]FileEntry)
	params := url.Values{"run": {run}}
	if err := c.get(ctx, "getRunFilepaths", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetHardwareHierarchy fetches the component hierarchy below the hardware
// item with the given experiment serial number and hardware type.
func (c *Connection) GetHardwareHierarchy(ctx context.Context, experimentSN, htype string) ([]map[string]string, error) {
	var out []map[string]string
	params := url.Values{
		"experimentSN": {experimentSN},
		"htype":        {htype},
		"noBatched":    {"false"},
	}
	if err := c.get(ctx, "getHardwareHierarchy", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetManufacturerID fetches the manufacturer serial number of a hardware
// item.
func (c *Connection) GetManufacturerID(ctx context.Context, experimentSN, htype string) (string, error) {
	var out struct {
		ManufacturerID string `json:"manufacturerId"`
	}
	params := url.Values{
		"experimentSN": {experimentSN},
		"htype":        {htype},
	}
	if err := c.get(ctx, "getManufacturerId", params, &out); err != nil {
		return "", err
	}
	return out.ManufacturerID, nil
}
