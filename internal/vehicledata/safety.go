package vehicledata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/openroad-labs/carscout/internal/httpkit"
)

// DefaultSafetyBaseURL is the production SafetyRatings endpoint root.
const DefaultSafetyBaseURL = "https://api.nhtsa.gov"

// SafetyRating holds the crash-test scores for one rated vehicle
// configuration. Ratings come back from NHTSA as strings ("5", "Not
// Rated") and are passed through untouched.
type SafetyRating struct {
	VehicleDescription       string `json:"VehicleDescription"`
	VehicleID                int64  `json:"VehicleId"`
	OverallRating            string `json:"OverallRating"`
	OverallFrontCrashRating  string `json:"OverallFrontCrashRating"`
	OverallSideCrashRating   string `json:"OverallSideCrashRating"`
	RolloverRating           string `json:"RolloverRating"`
	SidePoleCrashRating      string `json:"SidePoleCrashRating"`
	SideBarrierRatingOverall string `json:"SideBarrierRatingOverall"`
}

// SafetyReport is the aggregated answer for one year/make/model query.
// Year reflects the year that actually had data, which can differ from
// the requested year by one.
type SafetyReport struct {
	Year    int            `json:"year"`
	Make    string         `json:"make"`
	Model   string         `json:"model"`
	Count   int            `json:"count"`
	Ratings []SafetyRating `json:"ratings"`
	Note    string         `json:"note,omitempty"`
}

type safetyEnvelope struct {
	Count   int            `json:"Count"`
	Results []SafetyRating `json:"Results"`
}

// SafetyClient queries the NHTSA SafetyRatings service.
type SafetyClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSafetyClient creates a SafetyRatings client. baseURL defaults to
// the production endpoint when empty.
func NewSafetyClient(baseURL string, logger *slog.Logger) *SafetyClient {
	if baseURL == "" {
		baseURL = DefaultSafetyBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SafetyClient{
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
		logger:     logger.With("upstream", "nhtsa-safety"),
	}
}

// Ratings fetches crash-test ratings for a year/make/model. NHTSA
// often lags a model year, so if the exact year has no published data
// the adjacent years (year+1, then year-1) are tried before giving up.
// A report with Count 0 and an explanatory Note is returned when no
// year has data; that is not an error.
func (c *SafetyClient) Ratings(ctx context.Context, year int, makeName, model string) (*SafetyReport, error) {
	results, err := c.querySummary(ctx, year, makeName, model)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		for _, alt := range []int{year + 1, year - 1} {
			altResults, altErr := c.querySummary(ctx, alt, makeName, model)
			if altErr != nil {
				c.logger.Debug("adjacent year lookup failed", "year", alt, "error", altErr)
				continue
			}
			if len(altResults) > 0 {
				results = altResults
				year = alt
				break
			}
		}
	}

	if len(results) == 0 {
		return &SafetyReport{
			Year:  year,
			Make:  makeName,
			Model: model,
			Note:  "NHTSA has no published safety data for this model/year.",
		}, nil
	}

	report := &SafetyReport{Year: year, Make: makeName, Model: model}
	for _, r := range results {
		if r.VehicleID == 0 {
			continue
		}
		detail, err := c.vehicleDetail(ctx, r.VehicleID)
		if err != nil {
			c.logger.Warn("vehicle detail lookup failed", "vehicle_id", r.VehicleID, "error", err)
			detail = SafetyRating{}
		}
		detail.VehicleDescription = r.VehicleDescription
		detail.VehicleID = r.VehicleID
		report.Ratings = append(report.Ratings, detail)
	}
	report.Count = len(report.Ratings)
	return report, nil
}

func (c *SafetyClient) querySummary(ctx context.Context, year int, makeName, model string) ([]SafetyRating, error) {
	u := fmt.Sprintf("%s/SafetyRatings/modelyear/%d/make/%s/model/%s?format=json",
		c.baseURL, year, url.PathEscape(makeName), url.PathEscape(model))
	var env safetyEnvelope
	if err := c.getJSON(ctx, u, &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

func (c *SafetyClient) vehicleDetail(ctx context.Context, vehicleID int64) (SafetyRating, error) {
	u := fmt.Sprintf("%s/SafetyRatings/VehicleId/%d?format=json", c.baseURL, vehicleID)
	var env safetyEnvelope
	if err := c.getJSON(ctx, u, &env); err != nil {
		return SafetyRating{}, err
	}
	if len(env.Results) == 0 {
		return SafetyRating{}, nil
	}
	return env.Results[0], nil
}

func (c *SafetyClient) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("safety ratings request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 1024)
		c.logger.Error("upstream error", "status", resp.StatusCode, "body", errBody)
		return fmt.Errorf("safety ratings status %d: %s", resp.StatusCode, errBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode safety ratings response: %w", err)
	}
	return nil
}
