package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/openroad-labs/carscout/internal/vehicledata"
)

// Result size caps keep tool output inside the model's context budget.
const (
	maxVehiclesPerResult = 100
	maxMakesPerResult    = 40
)

const defaultMake = "Toyota"

// VehicleToolDeps carries the upstream clients the vehicle tools call.
type VehicleToolDeps struct {
	VPIC        *vehicledata.VPICClient
	Safety      *vehicledata.SafetyClient
	FuelEconomy *vehicledata.FuelEconomyClient
	Price       *vehicledata.PriceClient
}

// RegisterVehicleTools populates the registry with the vehicle-data
// catalog. The price tool is skipped when its API credentials are
// absent rather than registered in a state where every call fails.
func RegisterVehicleTools(reg *Registry, deps VehicleToolDeps) error {
	catalog := []*Tool{
		fetchAllMakes(deps.VPIC),
		fetchModelsOfMakeYear(deps.VPIC),
		fetchCarsOfYear(deps.VPIC),
		fetchSafetyRatings(deps.Safety),
		fetchGasMileage(deps.FuelEconomy),
	}
	if deps.Price != nil && deps.Price.Configured() {
		catalog = append(catalog, fetchPriceOfCar(deps.Price))
	}

	for _, t := range catalog {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func fetchAllMakes(client *vehicledata.VPICClient) *Tool {
	return &Tool{
		Name: "fetch_all_makes",
		Description: "Retrieve a list of all vehicle manufacturers (makes) from the NHTSA " +
			"database. This tool does not require inputs.",
		InputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			makes, err := client.AllMakes(ctx)
			if err != nil {
				return "", err
			}
			capped := makes
			if len(capped) > maxMakesPerResult {
				capped = capped[:maxMakesPerResult]
			}
			return JSONContent(map[string]any{
				"count": len(makes),
				"makes": capped,
			}), nil
		},
	}
}

func fetchModelsOfMakeYear(client *vehicledata.VPICClient) *Tool {
	return &Tool{
		Name:        "fetch_models_of_make_year",
		Description: "Used to get models of a particular make from a particular year",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"year": map[string]any{"type": "integer"},
				"make": map[string]any{"type": "string"},
			},
			"required":             []string{"year"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			year, ok := intArg(input, "year")
			if !ok {
				return "", fmt.Errorf("missing required input 'year'")
			}
			makeName := strArg(input, "make", defaultMake)

			models, err := client.ModelsForMakeYear(ctx, makeName, year)
			if err != nil {
				return "", err
			}

			if len(models) == 0 {
				return JSONContent(map[string]any{
					"year":     year,
					"make":     makeName,
					"count":    0,
					"vehicles": []vehicledata.ModelRecord{},
					"message":  fmt.Sprintf("No models found for make=%q in year=%d.", makeName, year),
				}), nil
			}

			capped := models
			if len(capped) > maxVehiclesPerResult {
				capped = capped[:maxVehiclesPerResult]
			}
			return JSONContent(map[string]any{
				"year":     year,
				"make":     makeName,
				"count":    len(models),
				"vehicles": capped,
			}), nil
		},
	}
}

func fetchCarsOfYear(client *vehicledata.VPICClient) *Tool {
	return &Tool{
		Name: "fetch_cars_of_year",
		Description: "Query the official NHTSA Vehicle API for all makes and models available " +
			"in a given model year. Returns a structured JSON list of results.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"year": map[string]any{
					"type":        "integer",
					"description": "The model year to fetch vehicles for (e.g., 2021).",
				},
			},
			"required":             []string{"year"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			year, ok := intArg(input, "year")
			if !ok {
				return "", fmt.Errorf("missing required input 'year'")
			}

			cars, err := client.ModelsForYear(ctx, year)
			if err != nil {
				return "", err
			}

			capped := cars
			if len(capped) > maxVehiclesPerResult {
				capped = capped[:maxVehiclesPerResult]
			}
			return JSONContent(map[string]any{
				"year":     year,
				"count":    len(cars),
				"vehicles": capped,
			}), nil
		},
	}
}

func fetchSafetyRatings(client *vehicledata.SafetyClient) *Tool {
	return &Tool{
		Name: "fetch_safety_ratings",
		Description: "Get NHTSA crash-test ratings (overall, front, side, rollover) " +
			"for a specific {year, make, model}. Retries ±1 year if the " +
			"exact year has no published data.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"year":  map[string]any{"type": "integer", "description": "Model year (e.g., 2020)"},
				"make":  map[string]any{"type": "string", "description": "Make (e.g., Ford)"},
				"model": map[string]any{"type": "string", "description": "Model (e.g., Ranger)"},
			},
			"required":             []string{"year", "make", "model"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			year, ok := intArg(input, "year")
			if !ok {
				return "", fmt.Errorf("missing required input 'year'")
			}
			makeName := strArg(input, "make", "")
			model := strArg(input, "model", "")
			if makeName == "" || model == "" {
				return "", fmt.Errorf("missing 'make' or 'model'")
			}

			report, err := client.Ratings(ctx, year, makeName, model)
			if err != nil {
				return "", err
			}
			return JSONContent(report), nil
		},
	}
}

func fetchGasMileage(client *vehicledata.FuelEconomyClient) *Tool {
	return &Tool{
		Name:        "fetch_gas_mileage",
		Description: "Get gas mileage and CO2 data for a vehicle.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"year":  map[string]any{"type": "integer", "description": "Model year (e.g., 2022)"},
				"make":  map[string]any{"type": "string", "description": "Manufacturer (e.g., Toyota)"},
				"model": map[string]any{"type": "string", "description": "Model name (e.g., Camry)"},
			},
			"required":             []string{"year", "make", "model"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			year, ok := intArg(input, "year")
			if !ok {
				return "", fmt.Errorf("missing required input 'year'")
			}
			makeName := strArg(input, "make", "")
			model := strArg(input, "model", "")
			if makeName == "" || model == "" {
				return "", fmt.Errorf("missing 'make' or 'model'")
			}

			fe, err := client.Lookup(ctx, year, makeName, model)
			if errors.Is(err, vehicledata.ErrNotFound) {
				// Not-found is conversational, not a tool failure.
				return fmt.Sprintf("No vehicle found for %d %s %s.", year, makeName, model), nil
			}
			if err != nil {
				return "", err
			}
			return JSONContent(fe), nil
		},
	}
}

func fetchPriceOfCar(client *vehicledata.PriceClient) *Tool {
	return &Tool{
		Name: "fetch_price_of_car",
		Description: "Look up retail / trade-in price estimates for a vehicle using " +
			"Google Custom Search (NADA, Edmunds, KBB). Returns low/high USD " +
			"range extracted from search snippets.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"year":  map[string]any{"type": "integer", "description": "Model year"},
				"make":  map[string]any{"type": "string", "description": "Vehicle make (default: Toyota)"},
				"model": map[string]any{"type": "string", "description": "Vehicle model"},
			},
			"required":             []string{"year"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			year, ok := intArg(input, "year")
			if !ok {
				return "", fmt.Errorf("missing required input 'year'")
			}
			makeName := strArg(input, "make", defaultMake)
			model := strArg(input, "model", "")

			pricing, err := client.Lookup(ctx, year, makeName, model)
			if err != nil {
				return "", err
			}
			return JSONContent(map[string]any{
				"year":    year,
				"make":    makeName,
				"model":   model,
				"pricing": pricing,
			}), nil
		},
	}
}

// intArg reads an integer argument, tolerating the number and string
// forms models actually send.
func intArg(input map[string]any, key string) (int, bool) {
	v, ok := input[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func strArg(input map[string]any, key, fallback string) string {
	if s, ok := input[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
