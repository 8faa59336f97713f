package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// client talks to the print server's HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(serverURL string) *client {
	return &client{
		base: strings.TrimSuffix(serverURL, "/"),
		// Connects and prints can take a while on a slow link.
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

type status struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Printing  bool   `json:"printing"`
	Error     string `json:"error"`
}

type link struct {
	PrinterID string `json:"printer_id"`
	Device    device `json:"device"`
	Candidate struct {
		Profile        string `json:"profile"`
		Characteristic string `json:"characteristic"`
	} `json:"candidate"`
}

type statusResponse struct {
	Status status `json:"status"`
	Link   *link  `json:"link"`
}

type device struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

type job struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Commands int    `json:"commands"`
	Failed   int    `json:"failed"`
	Bytes    int    `json:"bytes"`
	Chunks   int    `json:"chunks"`
	Error    string `json:"error"`
}

type printerEntry struct {
	ID             string    `json:"id"`
	Address        string    `json:"address"`
	AdvertisedName string    `json:"advertised_name"`
	Name           string    `json:"name"`
	Profile        string    `json:"profile"`
	LastConnected  time.Time `json:"last_connected"`
}

func (p printerEntry) displayName() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.AdvertisedName != "":
		return p.AdvertisedName
	default:
		return p.Address
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Code)
}

// do sends body (nil, []byte or a JSON value) and decodes the response into
// out. Error responses still decode into out so a failed job can be shown.
func (c *client) do(method, path string, body any, out any) error {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return err
	}
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Code: resp.StatusCode, Message: e.Error}
	}
	return nil
}

func (c *client) Status() (*statusResponse, error) {
	var out statusResponse
	if err := c.do(http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Scan() ([]device, error) {
	var out struct {
		Devices []device `json:"devices"`
	}
	if err := c.do(http.MethodPost, "/scan", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// Connect takes a MAC address, a platform UUID, a name fragment or nothing.
func (c *client) Connect(target string) (*statusResponse, error) {
	req := map[string]string{}
	switch {
	case target == "":
	case looksLikeAddress(target):
		req["address"] = target
	default:
		req["name"] = target
	}

	var out statusResponse
	if err := c.do(http.MethodPost, "/connect", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Disconnect() error {
	return c.do(http.MethodPost, "/disconnect", nil, nil)
}

func (c *client) runJob(path string, body []byte) (*job, error) {
	var out struct {
		Job *job `json:"job"`
	}
	err := c.do(http.MethodPost, path, body, &out)
	return out.Job, err
}

func (c *client) Print(receipt []byte) (*job, error) {
	return c.runJob("/print", receipt)
}

func (c *client) SelfTest() (*job, error) {
	return c.runJob("/selftest", nil)
}

func (c *client) Preview(receipt []byte) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := c.do(http.MethodPost, "/preview", receipt, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *client) Jobs() ([]job, error) {
	var out struct {
		Jobs []job `json:"jobs"`
	}
	if err := c.do(http.MethodGet, "/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *client) Printers() ([]printerEntry, error) {
	var out struct {
		Printers []printerEntry `json:"printers"`
	}
	if err := c.do(http.MethodGet, "/printers", nil, &out); err != nil {
		return nil, err
	}
	return out.Printers, nil
}

func (c *client) Rename(id, name string) error {
	return c.do(http.MethodPost, "/printer/"+url.PathEscape(id)+"/name", map[string]string{"name": name}, nil)
}

// passthrough sends args to the server's command executor and prints the
// message it returns.
func (c *client) passthrough(args []string) error {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(http.MethodPost, "/command", map[string]string{"command": quoteArgs(args)}, &out); err != nil {
		return err
	}
	if out.Message != "" {
		fmt.Println(out.Message)
	}
	return nil
}

// quoteArgs rebuilds a command line the server's tokenizer splits back
// into args.
func quoteArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if k, v, ok := strings.Cut(a, ":"); ok && strings.ContainsAny(v, " \t") {
			a = k + `:"` + v + `"`
		} else if strings.ContainsAny(a, " \t") {
			a = `"` + a + `"`
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

func looksLikeAddress(s string) bool {
	if len(s) == 17 && strings.Count(s, ":") == 5 {
		return true
	}
	return len(s) == 36 && strings.Count(s, "-") == 4
}
