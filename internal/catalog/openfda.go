package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// openFDABaseURL is the openFDA drug API.
const openFDABaseURL = "https://api.fda.gov"

// openFDAResult carries the fields the catalog takes from a drug label.
type openFDAResult struct {
	Indications       []string
	Contraindications []string
	DrugClass         []string
	PregnancyCategory string
}

// openFDAResponse mirrors the label search response shape. Only the sections
// the catalog reads are declared.
type openFDAResponse struct {
	Results []openFDALabel `json:"results"`
}

type openFDALabel struct {
	IndicationsAndUsage      []string `json:"indications_and_usage"`
	Contraindications        []string `json:"contraindications"`
	Pregnancy                []string `json:"pregnancy"`
	UseInSpecificPopulations []string `json:"use_in_specific_populations"`
	WarningsAndCautions      []string `json:"warnings_and_cautions"`
	OpenFDA                  struct {
		PharmClassEPC []string `json:"pharm_class_epc"`
	} `json:"openfda"`
}

// queryOpenFDA resolves term against the openFDA drug label search. openFDA
// answers 404 when the search matches nothing, which is absence rather than
// failure.
func (c *Catalog) queryOpenFDA(ctx context.Context, term string) (*openFDAResult, error) {
	endpoint := c.openFDABase + "/drug/label.json?search=" +
		url.QueryEscape("openfda.brand_name:"+term)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: openfda request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: openfda: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("catalog: openfda: unexpected status %d", resp.StatusCode)
	}

	var fr openFDAResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("catalog: openfda decode: %w", err)
	}
	if len(fr.Results) == 0 {
		return nil, nil
	}

	label := fr.Results[0]
	return &openFDAResult{
		Indications:       label.IndicationsAndUsage,
		Contraindications: label.Contraindications,
		DrugClass:         label.OpenFDA.PharmClassEPC,
		PregnancyCategory: extractPregnancyCategory(label),
	}, nil
}

// extractPregnancyCategory scans the label sections that mention pregnancy
// for an FDA letter category. Category A is checked first: a label citing
// several categories is read optimistically, matching how the sections are
// ordered in practice.
func extractPregnancyCategory(label openFDALabel) string {
	sections := [][]string{
		label.Pregnancy,
		label.UseInSpecificPopulations,
		label.WarningsAndCautions,
	}
	for _, section := range sections {
		if len(section) == 0 {
			continue
		}
		text := strings.ToLower(strings.Join(section, " "))
		for _, cat := range []string{"a", "b", "c", "d", "x"} {
			if strings.Contains(text, "category "+cat) {
				return strings.ToUpper(cat)
			}
		}
	}
	return "unknown"
}
