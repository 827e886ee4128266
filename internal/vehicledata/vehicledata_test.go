package vehicledata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVPIC_ModelsForMakeYear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/vehicles/GetModelsForMakeYear/make/Toyota/modelyear/2021"
		if r.URL.Path != want {
			t.Errorf("path = %s, want %s", r.URL.Path, want)
		}
		fmt.Fprint(w, `{
			"Count": 3,
			"Message": "Results returned successfully",
			"Results": [
				{"Make_ID": 448, "Make_Name": "TOYOTA", "Model_ID": 2208, "Model_Name": "Camry"},
				{"Make_ID": 448, "Make_Name": "TOYOTA", "Model_ID": 13088, "Model_Name": "RAV4"},
				{"Make_ID": 448, "Make_Name": "TOYOTA", "Model_ID": 0, "Model_Name": ""}
			]
		}`)
	}))
	defer srv.Close()

	c := NewVPICClient(srv.URL, nil)
	models, err := c.ModelsForMakeYear(context.Background(), "Toyota", 2021)
	if err != nil {
		t.Fatalf("ModelsForMakeYear: %v", err)
	}

	// Entry with empty model name is dropped.
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2", len(models))
	}
	if models[0].ModelName != "Camry" || models[1].ModelName != "RAV4" {
		t.Errorf("models = %+v", models)
	}
}

func TestVPIC_AllMakes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vehicles/GetAllMakes" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"Count": 2, "Results": [
			{"Make_ID": 440, "Make_Name": "ASTON MARTIN"},
			{"Make_ID": 448, "Make_Name": "TOYOTA"}
		]}`)
	}))
	defer srv.Close()

	c := NewVPICClient(srv.URL, nil)
	makes, err := c.AllMakes(context.Background())
	if err != nil {
		t.Fatalf("AllMakes: %v", err)
	}
	if len(makes) != 2 {
		t.Fatalf("makes = %d, want 2", len(makes))
	}
	if makes[1].MakeName != "TOYOTA" || makes[1].MakeID != 448 {
		t.Errorf("make = %+v", makes[1])
	}
}

func TestVPIC_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewVPICClient(srv.URL, nil)
	if _, err := c.AllMakes(context.Background()); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestSafety_RatingsWithDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/SafetyRatings/modelyear/2021/make/Honda/model/CR-V":
			fmt.Fprint(w, `{"Count": 1, "Results": [
				{"VehicleDescription": "2021 Honda CR-V SUV AWD", "VehicleId": 15000}
			]}`)
		case "/SafetyRatings/VehicleId/15000":
			fmt.Fprint(w, `{"Count": 1, "Results": [{
				"VehicleId": 15000,
				"OverallRating": "5",
				"OverallFrontCrashRating": "4",
				"OverallSideCrashRating": "5",
				"RolloverRating": "4"
			}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewSafetyClient(srv.URL, nil)
	report, err := c.Ratings(context.Background(), 2021, "Honda", "CR-V")
	if err != nil {
		t.Fatalf("Ratings: %v", err)
	}

	if report.Count != 1 {
		t.Fatalf("count = %d, want 1", report.Count)
	}
	rating := report.Ratings[0]
	if rating.VehicleDescription != "2021 Honda CR-V SUV AWD" {
		t.Errorf("description = %q", rating.VehicleDescription)
	}
	if rating.OverallRating != "5" || rating.RolloverRating != "4" {
		t.Errorf("ratings = %+v", rating)
	}
}

func TestSafety_AdjacentYearFallback(t *testing.T) {
	var queriedYears []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/SafetyRatings/modelyear/2024/make/Ford/model/Ranger":
			queriedYears = append(queriedYears, "2024")
			fmt.Fprint(w, `{"Count": 0, "Results": []}`)
		case r.URL.Path == "/SafetyRatings/modelyear/2025/make/Ford/model/Ranger":
			queriedYears = append(queriedYears, "2025")
			fmt.Fprint(w, `{"Count": 0, "Results": []}`)
		case r.URL.Path == "/SafetyRatings/modelyear/2023/make/Ford/model/Ranger":
			queriedYears = append(queriedYears, "2023")
			fmt.Fprint(w, `{"Count": 1, "Results": [
				{"VehicleDescription": "2023 Ford Ranger", "VehicleId": 17000}
			]}`)
		case r.URL.Path == "/SafetyRatings/VehicleId/17000":
			fmt.Fprint(w, `{"Count": 1, "Results": [{"VehicleId": 17000, "OverallRating": "4"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewSafetyClient(srv.URL, nil)
	report, err := c.Ratings(context.Background(), 2024, "Ford", "Ranger")
	if err != nil {
		t.Fatalf("Ratings: %v", err)
	}

	if len(queriedYears) != 3 {
		t.Errorf("queried years = %v, want exact then +1 then -1", queriedYears)
	}
	if report.Year != 2023 {
		t.Errorf("report year = %d, want fallback year 2023", report.Year)
	}
	if report.Count != 1 {
		t.Errorf("count = %d", report.Count)
	}
}

func TestSafety_NoDataAnyYear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Count": 0, "Results": []}`)
	}))
	defer srv.Close()

	c := NewSafetyClient(srv.URL, nil)
	report, err := c.Ratings(context.Background(), 1999, "Yugo", "GV")
	if err != nil {
		t.Fatalf("Ratings: %v", err)
	}
	if report.Count != 0 || report.Note == "" {
		t.Errorf("report = %+v, want empty report with note", report)
	}
}

func TestFuelEconomy_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		switch r.URL.Path {
		case "/vehicle/menu/options":
			q := r.URL.Query()
			if q.Get("year") != "2022" || q.Get("make") != "Toyota" || q.Get("model") != "RAV4" {
				t.Errorf("query = %v", q)
			}
			fmt.Fprint(w, `<menuItems>
				<menuItem><text>Auto (AV-S8), 4 cyl, 2.5 L</text><value>44123</value></menuItem>
				<menuItem><text>Auto (S8), 4 cyl, 2.5 L, 4WD</text><value>44124</value></menuItem>
			</menuItems>`)
		case "/vehicle/44123":
			fmt.Fprint(w, `<vehicle>
				<make>Toyota</make>
				<model>RAV4</model>
				<year>2022</year>
				<fuelType1>Regular Gasoline</fuelType1>
				<city08>27</city08>
				<highway08>35</highway08>
				<comb08>30</comb08>
				<co2TailpipeGpm>296</co2TailpipeGpm>
				<fuelCost08>1850</fuelCost08>
			</vehicle>`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewFuelEconomyClient(srv.URL, nil)
	fe, err := c.Lookup(context.Background(), 2022, "Toyota", "RAV4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if fe.VehicleID != "44123" {
		t.Errorf("vehicle id = %q, want first menu option", fe.VehicleID)
	}
	if fe.CombinedMPG != 30 || fe.CO2GramsPerMile != 296 {
		t.Errorf("record = %+v", fe)
	}
	if fe.FuelType != "Regular Gasoline" {
		t.Errorf("fuel type = %q", fe.FuelType)
	}
}

func TestFuelEconomy_NoVehicle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<menuItems></menuItems>`)
	}))
	defer srv.Close()

	c := NewFuelEconomyClient(srv.URL, nil)
	_, err := c.Lookup(context.Background(), 2022, "Fake", "Car")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPrice_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("cx") != "c" {
			t.Errorf("credentials = key %q cx %q", q.Get("key"), q.Get("cx"))
		}
		fmt.Fprint(w, `{"items": [
			{"title": "2020 Toyota Camry Values | Kelley Blue Book",
			 "link": "https://www.kbb.com/toyota/camry/2020/",
			 "snippet": "Trade-in value $14,500 to retail $18,900 depending on condition."},
			{"title": "Used 2020 Toyota Camry | Edmunds",
			 "link": "https://www.edmunds.com/toyota/camry/2020/",
			 "snippet": "Prices range from $13,200 - $19,500 for the 2020 Camry."}
		]}`)
	}))
	defer srv.Close()

	c := NewPriceClient("k", "c", srv.URL, nil)
	est, err := c.Lookup(context.Background(), 2020, "Toyota", "Camry")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if est.LowUSD != 13200 {
		t.Errorf("low = %d, want 13200", est.LowUSD)
	}
	if est.HighUSD != 19500 {
		t.Errorf("high = %d, want 19500", est.HighUSD)
	}
	if len(est.PriceStrings) != 3 {
		t.Errorf("price strings = %v", est.PriceStrings)
	}
	if len(est.Sources) != 2 {
		t.Errorf("sources = %d", len(est.Sources))
	}
}

func TestPrice_NoPricesInSnippets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items": [
			{"title": "Toyota Camry Review", "link": "https://example.com", "snippet": "A fine sedan."}
		]}`)
	}))
	defer srv.Close()

	c := NewPriceClient("k", "c", srv.URL, nil)
	est, err := c.Lookup(context.Background(), 2020, "Toyota", "Camry")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if est.Message == "" || est.LowUSD != 0 {
		t.Errorf("estimate = %+v, want message-only result", est)
	}
}

func TestPrice_QuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewPriceClient("k", "c", srv.URL, nil)
	if _, err := c.Lookup(context.Background(), 2020, "Toyota", "Camry"); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestPrice_Configured(t *testing.T) {
	if NewPriceClient("", "", "", nil).Configured() {
		t.Error("client without credentials reports configured")
	}
	if !NewPriceClient("k", "c", "", nil).Configured() {
		t.Error("client with credentials reports unconfigured")
	}
}

func TestParsePrices(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"$14,500", []int{14500}},
		{"$13,200 - $19,500", []int{13200, 19500}},
		{"$13,200-$19,500", []int{13200, 19500}},
	}
	for _, tc := range tests {
		got := parsePrices(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("parsePrices(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("parsePrices(%q)[%d] = %d, want %d", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestFormatThousands(t *testing.T) {
	tests := map[int]string{
		500:     "500",
		1850:    "1,850",
		19500:   "19,500",
		1234567: "1,234,567",
	}
	for n, want := range tests {
		if got := formatThousands(n); got != want {
			t.Errorf("formatThousands(%d) = %q, want %q", n, got, want)
		}
	}
}
