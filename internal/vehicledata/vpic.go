// Package vehicledata wraps the public vehicle-information APIs the
// recommendation tools draw on: the NHTSA vPIC vehicle catalog, the
// NHTSA SafetyRatings service, the fueleconomy.gov REST service, and
// Google Custom Search for price estimates. Each upstream gets its
// own client with an injectable base URL so tests can point it at a
// local server.
package vehicledata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/openroad-labs/carscout/internal/httpkit"
)

// ErrNotFound reports that the upstream had no data for the requested
// vehicle. Callers surface it conversationally rather than as a hard
// failure.
var ErrNotFound = errors.New("vehicledata: no matching vehicle")

// DefaultVPICBaseURL is the production vPIC endpoint root.
const DefaultVPICBaseURL = "https://vpic.nhtsa.dot.gov/api"

// MakeRecord is one manufacturer from the vPIC catalog.
type MakeRecord struct {
	MakeID   int64  `json:"Make_ID"`
	MakeName string `json:"Make_Name"`
}

// ModelRecord is one make/model pairing from the vPIC catalog.
type ModelRecord struct {
	MakeID    int64  `json:"Make_ID,omitempty"`
	MakeName  string `json:"Make_Name"`
	ModelID   int64  `json:"Model_ID,omitempty"`
	ModelName string `json:"Model_Name"`
}

// vpicEnvelope is the common vPIC response wrapper.
type vpicEnvelope[T any] struct {
	Count   int    `json:"Count"`
	Message string `json:"Message"`
	Results []T    `json:"Results"`
}

// VPICClient queries the NHTSA vPIC vehicle catalog.
type VPICClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewVPICClient creates a vPIC client. baseURL defaults to the
// production endpoint when empty.
func NewVPICClient(baseURL string, logger *slog.Logger) *VPICClient {
	if baseURL == "" {
		baseURL = DefaultVPICBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VPICClient{
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		logger:     logger.With("upstream", "vpic"),
	}
}

// AllMakes lists every manufacturer known to vPIC.
func (c *VPICClient) AllMakes(ctx context.Context) ([]MakeRecord, error) {
	u := fmt.Sprintf("%s/vehicles/GetAllMakes?format=json", c.baseURL)
	var env vpicEnvelope[MakeRecord]
	if err := c.getJSON(ctx, u, &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

// ModelsForMakeYear lists the models a manufacturer offered in a
// given model year. Entries without a model name are dropped.
func (c *VPICClient) ModelsForMakeYear(ctx context.Context, makeName string, year int) ([]ModelRecord, error) {
	u := fmt.Sprintf("%s/vehicles/GetModelsForMakeYear/make/%s/modelyear/%d?format=json",
		c.baseURL, url.PathEscape(makeName), year)
	var env vpicEnvelope[ModelRecord]
	if err := c.getJSON(ctx, u, &env); err != nil {
		return nil, err
	}
	out := make([]ModelRecord, 0, len(env.Results))
	for _, r := range env.Results {
		if r.ModelName == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ModelsForYear lists every make/model pairing available in a model
// year, across all manufacturers.
func (c *VPICClient) ModelsForYear(ctx context.Context, year int) ([]ModelRecord, error) {
	u := fmt.Sprintf("%s/vehicles/GetModelsForYear/%d?format=json", c.baseURL, year)
	var env vpicEnvelope[ModelRecord]
	if err := c.getJSON(ctx, u, &env); err != nil {
		return nil, err
	}
	out := make([]ModelRecord, 0, len(env.Results))
	for _, r := range env.Results {
		if r.MakeName == "" || r.ModelName == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *VPICClient) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vpic request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 1024)
		c.logger.Error("upstream error", "status", resp.StatusCode, "body", errBody)
		return fmt.Errorf("vpic status %d: %s", resp.StatusCode, errBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode vpic response: %w", err)
	}
	return nil
}
