package vehicledata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openroad-labs/carscout/internal/httpkit"
)

// DefaultPriceBaseURL is the Google Custom Search endpoint.
const DefaultPriceBaseURL = "https://www.googleapis.com/customsearch/v1"

// priceRe matches dollar amounts and dollar ranges in search snippets,
// e.g. "$12,500" or "$10,000 - $14,000".
var priceRe = regexp.MustCompile(`\$[\d,]+(?:\s*-\s*\$[\d,]+)?`)

var nonDigitRe = regexp.MustCompile(`[^\d]`)

// PriceSource identifies where a price string was found.
type PriceSource struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// PriceEstimate is the low/high used-market price range extracted from
// pricing-site search snippets.
type PriceEstimate struct {
	QueryUsed    string        `json:"query_used"`
	LowUSD       int           `json:"low_estimate_usd,omitempty"`
	HighUSD      int           `json:"high_estimate_usd,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	PriceStrings []string      `json:"price_strings,omitempty"`
	Sources      []PriceSource `json:"sources"`
	Message      string        `json:"message,omitempty"`
}

type cseResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// PriceClient looks up used-vehicle price estimates via Google Custom
// Search over the major pricing sites (NADA, Edmunds, KBB).
type PriceClient struct {
	apiKey     string
	cx         string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPriceClient creates a price lookup client. baseURL defaults to
// the Google Custom Search endpoint when empty.
func NewPriceClient(apiKey, cx, baseURL string, logger *slog.Logger) *PriceClient {
	if baseURL == "" {
		baseURL = DefaultPriceBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceClient{
		apiKey:     apiKey,
		cx:         cx,
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(12 * time.Second)),
		logger:     logger.With("upstream", "google-cse"),
	}
}

// Configured reports whether API credentials are present. The price
// tool is left out of the registry when they are not.
func (c *PriceClient) Configured() bool {
	return c.apiKey != "" && c.cx != ""
}

// Lookup searches the pricing sites for a year/make/model and extracts
// the dollar amounts appearing in result snippets. When no snippet
// carries a price, the estimate comes back with Message set and zero
// Low/High; that is not an error.
func (c *PriceClient) Lookup(ctx context.Context, year int, makeName, model string) (*PriceEstimate, error) {
	base := fmt.Sprintf("%d %s", year, makeName)
	if model != "" {
		base += " " + model
	}
	q := base + " retail price OR trade-in site:nada.com OR site:edmunds.com OR site:kbb.com"

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.cx)
	params.Set("q", q)
	params.Set("num", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price search failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		httpkit.DrainAndClose(resp.Body, 1024)
		return nil, fmt.Errorf("price search quota exceeded or invalid API key")
	case http.StatusTooManyRequests:
		httpkit.DrainAndClose(resp.Body, 1024)
		return nil, fmt.Errorf("price search rate limit hit")
	default:
		errBody := httpkit.ReadErrorBody(resp.Body, 1024)
		c.logger.Error("upstream error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("price search status %d: %s", resp.StatusCode, errBody)
	}

	var data cseResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode price search response: %w", err)
	}

	var priceStrings []string
	var sources []PriceSource
	for _, item := range data.Items {
		sources = append(sources, PriceSource{Title: item.Title, Link: item.Link})
		priceStrings = append(priceStrings, priceRe.FindAllString(item.Snippet, -1)...)
	}
	if len(sources) > 5 {
		sources = sources[:5]
	}

	if len(priceStrings) == 0 {
		return &PriceEstimate{
			QueryUsed: q,
			Message:   "No price data in top results.",
			Sources:   sources,
		}, nil
	}

	var all []int
	for _, s := range priceStrings {
		all = append(all, parsePrices(s)...)
	}
	low, high := all[0], all[0]
	for _, n := range all[1:] {
		if n < low {
			low = n
		}
		if n > high {
			high = n
		}
	}

	var titles []string
	for i, s := range sources {
		if i == 3 {
			break
		}
		t := s.Title
		if len(t) > 50 {
			t = t[:50]
		}
		titles = append(titles, t)
	}

	if len(priceStrings) > 10 {
		priceStrings = priceStrings[:10]
	}

	return &PriceEstimate{
		QueryUsed: q,
		LowUSD:    low,
		HighUSD:   high,
		Summary: fmt.Sprintf("%s %s %d price range: $%s – $%s USD (sources: %s)",
			makeName, model, year, formatThousands(low), formatThousands(high),
			strings.Join(titles, ", ")),
		PriceStrings: priceStrings,
		Sources:      sources,
	}, nil
}

// parsePrices splits a matched price string (possibly a range) into
// its integer dollar amounts.
func parsePrices(s string) []int {
	var nums []int
	for _, part := range strings.Split(strings.ReplaceAll(s, " - ", "-"), "-") {
		clean := nonDigitRe.ReplaceAllString(strings.TrimSpace(part), "")
		if clean == "" {
			continue
		}
		n, err := strconv.Atoi(clean)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

func formatThousands(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
