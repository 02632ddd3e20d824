package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// rxnormBaseURL is the National Library of Medicine RxNorm REST API.
const rxnormBaseURL = "https://rxnav.nlm.nih.gov/REST"

// rxnormResult carries the fields the catalog takes from RxNorm.
type rxnormResult struct {
	CanonicalName string
	RxCUI         string
	BrandNames    []string
	GenericNames  []string
}

// rxnormResponse mirrors the drugs.json response shape.
type rxnormResponse struct {
	DrugGroup struct {
		ConceptGroup []struct {
			TTY               string `json:"tty"`
			ConceptProperties []struct {
				RxCUI   string `json:"rxcui"`
				Name    string `json:"name"`
				Synonym string `json:"synonym"`
				TTY     string `json:"tty"`
			} `json:"conceptProperties"`
		} `json:"conceptGroup"`
	} `json:"drugGroup"`
}

// queryRxNorm resolves term against RxNorm drugs.json. A nil result with a
// nil error means RxNorm does not know the term; errors are reserved for
// transport and server failures so they feed the circuit breaker.
func (c *Catalog) queryRxNorm(ctx context.Context, term string) (*rxnormResult, error) {
	endpoint := c.rxnormBase + "/drugs.json?name=" + url.QueryEscape(term)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: rxnorm request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: rxnorm: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("catalog: rxnorm: unexpected status %d", resp.StatusCode)
	}

	var rr rxnormResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("catalog: rxnorm decode: %w", err)
	}

	result := &rxnormResult{}
	for _, group := range rr.DrugGroup.ConceptGroup {
		for _, prop := range group.ConceptProperties {
			if result.CanonicalName == "" && prop.Name != "" {
				result.CanonicalName = prop.Name
				result.RxCUI = prop.RxCUI
			}
			switch prop.TTY {
			case "IN":
				result.GenericNames = append(result.GenericNames, prop.Name)
			case "BN":
				result.BrandNames = append(result.BrandNames, prop.Name)
			}
		}
	}

	if result.CanonicalName == "" {
		return nil, nil
	}
	return result, nil
}
