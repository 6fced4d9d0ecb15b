package scgi

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultPort is the TCP port of the Cybro SCGI server.
	DefaultPort = 4000

	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 5 * time.Second

	// maxNamesPerRequest caps the query string length of one request.
	maxNamesPerRequest = 50

	// maxResponseBytes guards against runaway responses (allocation files
	// are the largest legitimate payload).
	maxResponseBytes = 4 << 20
)

// Server-level variable names.
const (
	varServerVersion = "sys.server_version"
	varServerUptime  = "sys.server_uptime"
	varRequestCount  = "sys.scgi_request_count"
)

// PLC-level variable suffixes, qualified with the PLC prefix at request time.
const (
	varIPPort        = "sys.ip_port"
	varTimestamp     = "sys.timestamp"
	varProgramStatus = "sys.plc_program_status"
	varResponseTime  = "sys.response_time"
	varALCFile       = "sys.alc_file"
)

// Config holds the connection settings for a Client.
type Config struct {
	// Host is the SCGI server host name or IP address.
	Host string

	// Port is the SCGI server port (default 4000).
	Port int

	// NAD is the network address of the PLC to talk to.
	NAD int

	// Timeout bounds each HTTP request (default 5s).
	Timeout time.Duration

	// HTTPClient overrides the HTTP client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client reads variables from one PLC through the Cybro SCGI server.
type Client struct {
	baseURL string
	nad     int
	prefix  string
	http    *http.Client

	mu      sync.Mutex
	tracked map[string]VarType
	order   []string

	last atomic.Pointer[Device]
}

// NewClient creates a client for the PLC at cfg.NAD.
//
// Parameters:
//   - cfg: connection settings
//
// Returns:
//   - *Client: ready to use; no connection is made until Update
//   - error: ErrInvalidConfig if host or address are missing
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if cfg.NAD <= 0 {
		return nil, fmt.Errorf("%w: nad must be positive, got %d", ErrInvalidConfig, cfg.NAD)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL: "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		nad:     cfg.NAD,
		prefix:  Prefix(cfg.NAD),
		http:    httpClient,
		tracked: make(map[string]VarType),
	}, nil
}

// NAD returns the PLC network address this client reads.
func (c *Client) NAD() int {
	return c.nad
}

// AddVar registers a variable so that subsequent updates fetch it.
// Registering a name twice keeps the first declared type.
func (c *Client) AddVar(name string, t VarType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tracked[name]; ok {
		return
	}
	c.tracked[name] = t
	c.order = append(c.order, name)
}

// TrackedVars returns a copy of the tracked variable set.
func (c *Client) TrackedVars() map[string]VarType {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]VarType, len(c.tracked))
	for k, v := range c.tracked {
		out[k] = v
	}
	return out
}

// Update fetches a new Device snapshot.
//
// A full update refreshes server info, PLC info and the allocation file in
// addition to the tracked variables. An incremental update reads tracked
// variables only and carries the rest over from the previous snapshot; it is
// promoted to a full update when there is no previous snapshot.
//
// Parameters:
//   - ctx: cancels in-flight requests
//   - full: request a full update
//
// Returns:
//   - *Device: new snapshot, never modified afterwards
//   - error: one of the package sentinel errors, wrapped
func (c *Client) Update(ctx context.Context, full bool) (*Device, error) {
	prev := c.last.Load()
	if prev == nil {
		full = true
	}

	tracked, order := c.snapshotTracked()

	var names []string
	if full {
		names = c.fullNames(order)
	} else {
		names = dedupe(append([]string{c.prefix + varTimestamp}, order...))
	}

	results, err := c.read(ctx, names)
	if err != nil {
		return nil, err
	}

	dev := &Device{
		Vars:      make(map[string]Var, len(results)),
		UpdatedAt: time.Now(),
		Full:      full,
	}

	if full {
		if v, ok := results[c.prefix+varIPPort]; !ok || v.Value == "" {
			return nil, fmt.Errorf("%w: c%d", ErrPLCNotFound, c.nad)
		}
		dev.ServerInfo = ServerInfo{
			ServerVersion: results[varServerVersion].Value,
			ServerUptime:  results[varServerUptime].Value,
			RequestCount:  results[varRequestCount].Value,
		}
		dev.PLCInfo = PLCInfo{
			NAD:           c.nad,
			IPPort:        results[c.prefix+varIPPort].Value,
			Timestamp:     results[c.prefix+varTimestamp].Value,
			ProgramStatus: results[c.prefix+varProgramStatus].Value,
			ResponseTime:  results[c.prefix+varResponseTime].Value,
			PLCVars:       c.knownVars(results),
		}
	} else {
		dev.ServerInfo = prev.ServerInfo
		dev.PLCInfo = prev.PLCInfo
		if ts, ok := results[c.prefix+varTimestamp]; ok {
			dev.PLCInfo.Timestamp = ts.Value
		}
	}

	alcName := c.prefix + varALCFile
	for name, v := range results {
		if name == alcName {
			continue
		}
		v.Type = c.typeOf(name, tracked, dev.PLCInfo.PLCVars)
		dev.Vars[name] = v
	}

	c.last.Store(dev)
	return dev, nil
}

func (c *Client) snapshotTracked() (map[string]VarType, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tracked := make(map[string]VarType, len(c.tracked))
	for k, v := range c.tracked {
		tracked[k] = v
	}
	order := make([]string, len(c.order))
	copy(order, c.order)
	return tracked, order
}

func (c *Client) fullNames(tracked []string) []string {
	names := []string{
		varServerVersion,
		varServerUptime,
		varRequestCount,
		c.prefix + varIPPort,
		c.prefix + varTimestamp,
		c.prefix + varProgramStatus,
		c.prefix + varResponseTime,
		c.prefix + varALCFile,
	}
	for _, name := range sortedKeys(builtinVars) {
		names = append(names, c.prefix+name)
	}
	return dedupe(append(names, tracked...))
}

// knownVars merges the parsed allocation file with the builtin system
// variables the server resolved.
func (c *Client) knownVars(results map[string]Var) map[string]VarInfo {
	known := ParseALC(c.nad, results[c.prefix+varALCFile].Value)
	for name, vt := range builtinVars {
		full := c.prefix + name
		v, ok := results[full]
		if !ok {
			continue
		}
		if _, listed := known[full]; !listed {
			known[full] = VarInfo{Type: vt, Description: v.Description}
		}
	}
	return known
}

func (c *Client) typeOf(name string, tracked map[string]VarType, known map[string]VarInfo) VarType {
	if t, ok := tracked[name]; ok {
		return t
	}
	if info, ok := known[name]; ok {
		return info.Type
	}
	return VarTypeString
}

// read fetches names in batches and merges the known values.
func (c *Client) read(ctx context.Context, names []string) (map[string]Var, error) {
	results := make(map[string]Var, len(names))

	for start := 0; start < len(names); start += maxNamesPerRequest {
		end := start + maxNamesPerRequest
		if end > len(names) {
			end = len(names)
		}

		vars, err := c.fetch(ctx, names[start:end])
		if err != nil {
			return nil, err
		}
		for _, v := range vars {
			if v.Value == unknownValue {
				continue
			}
			results[v.Name] = v
		}
	}

	return results, nil
}

type xmlVar struct {
	Name        string `xml:"name"`
	Value       string `xml:"value"`
	Description string `xml:"description"`
}

// fetch performs one GET request and decodes every <var> element.
func (c *Client) fetch(ctx context.Context, names []string) ([]Var, error) {
	escaped := make([]string, len(names))
	for i, n := range names {
		escaped[i] = url.QueryEscape(n)
	}
	reqURL := c.baseURL + "/?" + strings.Join(escaped, "&")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrConnectionFailed, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	vars, err := decodeVars(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if len(vars) == 0 {
		return nil, ErrEmptyResponse
	}
	return vars, nil
}

// decodeVars collects every <var> element regardless of the root element,
// so single-variable replies without a <data> wrapper decode too.
func decodeVars(r io.Reader) ([]Var, error) {
	dec := xml.NewDecoder(r)
	var vars []Var

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return vars, nil
		}
		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "var" {
			continue
		}

		var xv xmlVar
		if err := dec.DecodeElement(&xv, &start); err != nil {
			return nil, err
		}
		vars = append(vars, Var{
			Name:        strings.TrimSpace(xv.Name),
			Value:       strings.TrimSpace(xv.Value),
			Description: strings.TrimSpace(xv.Description),
		})
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func sortedKeys(m map[string]VarType) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
