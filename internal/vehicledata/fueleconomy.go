package vehicledata

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/openroad-labs/carscout/internal/httpkit"
)

// DefaultFuelEconomyBaseURL is the production fueleconomy.gov REST root.
const DefaultFuelEconomyBaseURL = "https://www.fueleconomy.gov/ws/rest"

// FuelEconomy is the EPA fuel-economy record for one vehicle option.
type FuelEconomy struct {
	VehicleID       string  `json:"vehicle_id"`
	Make            string  `json:"make"`
	Model           string  `json:"model"`
	Year            int     `json:"year"`
	FuelType        string  `json:"fuel_type"`
	CityMPG         float64 `json:"city_mpg"`
	HighwayMPG      float64 `json:"highway_mpg"`
	CombinedMPG     float64 `json:"combined_mpg"`
	CO2GramsPerMile float64 `json:"co2_grams_per_mile"`
	AnnualFuelCost  float64 `json:"fuel_cost_annual"`
}

// fueleconomy.gov serves XML by default.

type feMenu struct {
	XMLName xml.Name     `xml:"menuItems"`
	Items   []feMenuItem `xml:"menuItem"`
}

type feMenuItem struct {
	Text  string `xml:"text"`
	Value string `xml:"value"`
}

type feVehicle struct {
	XMLName         xml.Name `xml:"vehicle"`
	Make            string   `xml:"make"`
	Model           string   `xml:"model"`
	Year            int      `xml:"year"`
	FuelType        string   `xml:"fuelType1"`
	CityMPG         float64  `xml:"city08"`
	HighwayMPG      float64  `xml:"highway08"`
	CombinedMPG     float64  `xml:"comb08"`
	CO2GramsPerMile float64  `xml:"co2TailpipeGpm"`
	AnnualFuelCost  float64  `xml:"fuelCost08"`
}

// FuelEconomyClient queries the fueleconomy.gov vehicle REST service.
type FuelEconomyClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFuelEconomyClient creates a fueleconomy.gov client. baseURL
// defaults to the production endpoint when empty.
func NewFuelEconomyClient(baseURL string, logger *slog.Logger) *FuelEconomyClient {
	if baseURL == "" {
		baseURL = DefaultFuelEconomyBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FuelEconomyClient{
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		logger:     logger.With("upstream", "fueleconomy"),
	}
}

// Lookup resolves a year/make/model to a vehicle option id, then
// fetches that vehicle's fuel-economy record. The first matching
// option (usually the base trim) is used. Returns ErrNotFound when
// the EPA has no data for the vehicle.
func (c *FuelEconomyClient) Lookup(ctx context.Context, year int, makeName, model string) (*FuelEconomy, error) {
	vehicleID, err := c.vehicleID(ctx, year, makeName, model)
	if err != nil {
		return nil, err
	}
	if vehicleID == "" {
		return nil, fmt.Errorf("%w: %d %s %s", ErrNotFound, year, makeName, model)
	}
	return c.vehicleDetail(ctx, vehicleID)
}

func (c *FuelEconomyClient) vehicleID(ctx context.Context, year int, makeName, model string) (string, error) {
	q := url.Values{}
	q.Set("year", fmt.Sprintf("%d", year))
	q.Set("make", makeName)
	q.Set("model", model)
	u := fmt.Sprintf("%s/vehicle/menu/options?%s", c.baseURL, q.Encode())

	var menu feMenu
	if err := c.getXML(ctx, u, &menu); err != nil {
		return "", err
	}
	if len(menu.Items) == 0 {
		return "", nil
	}
	return menu.Items[0].Value, nil
}

func (c *FuelEconomyClient) vehicleDetail(ctx context.Context, vehicleID string) (*FuelEconomy, error) {
	u := fmt.Sprintf("%s/vehicle/%s", c.baseURL, url.PathEscape(vehicleID))

	var v feVehicle
	if err := c.getXML(ctx, u, &v); err != nil {
		return nil, err
	}

	return &FuelEconomy{
		VehicleID:       vehicleID,
		Make:            v.Make,
		Model:           v.Model,
		Year:            v.Year,
		FuelType:        v.FuelType,
		CityMPG:         v.CityMPG,
		HighwayMPG:      v.HighwayMPG,
		CombinedMPG:     v.CombinedMPG,
		CO2GramsPerMile: v.CO2GramsPerMile,
		AnnualFuelCost:  v.AnnualFuelCost,
	}, nil
}

func (c *FuelEconomyClient) getXML(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fueleconomy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 1024)
		c.logger.Error("upstream error", "status", resp.StatusCode, "body", errBody)
		return fmt.Errorf("fueleconomy status %d: %s", resp.StatusCode, errBody)
	}

	if err := xml.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode fueleconomy response: %w", err)
	}
	return nil
}
