package pubchem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/helixir/compound-enrichment-service/internal/domain"
)

type propertiesResponse struct {
	PropertyTable struct {
		Properties []compoundProperties `json:"Properties"`
	} `json:"PropertyTable"`
}

type compoundProperties struct {
	CID                int64      `json:"CID"`
	IUPACName          flexString `json:"IUPACName"`
	CanonicalSMILES    flexString `json:"CanonicalSMILES"`
	SMILES             flexString `json:"SMILES"`
	ConnectivitySMILES flexString `json:"ConnectivitySMILES"`
	MolecularWeight    flexString `json:"MolecularWeight"`
	MolecularFormula   flexString `json:"MolecularFormula"`
}

// structure returns the first structure string PubChem supplied. Newer
// responses rename CanonicalSMILES to ConnectivitySMILES or SMILES.
func (p compoundProperties) structure() string {
	for _, s := range []flexString{p.CanonicalSMILES, p.ConnectivitySMILES, p.SMILES} {
		if s != "" {
			return string(s)
		}
	}
	return ""
}

// Resolve maps a molecule name, or a numeric compound id, to a compound
// record. A numeric input is returned as-is without a lookup. A nil record
// with a nil error means PubChem has no such compound or returned an
// unreadable body.
func (c *Client) Resolve(ctx context.Context, nameOrID string) (*domain.CompoundRecord, error) {
	query := strings.TrimSpace(nameOrID)
	if query == "" {
		return nil, domain.NewValidationError("molecule", "is required")
	}
	if cid, ok := ParseCompoundID(query); ok {
		return &domain.CompoundRecord{ID: cid}, nil
	}

	resp, err := c.fetcher.Get(ctx, EndpointCompoundProperties, c.propertiesURL(query))
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", query, err)
	}
	if resp.NotFound() {
		return nil, nil
	}
	if !resp.OK() {
		return nil, statusError(resp, "compound lookup failed")
	}

	var body propertiesResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		c.logger.Warn().Err(err).Str("molecule", query).Msg("malformed compound properties response")
		return nil, nil
	}
	if len(body.PropertyTable.Properties) == 0 || body.PropertyTable.Properties[0].CID <= 0 {
		return nil, nil
	}

	p := body.PropertyTable.Properties[0]
	return &domain.CompoundRecord{
		ID:              p.CID,
		Name:            string(p.IUPACName),
		StructureString: p.structure(),
		Mass:            string(p.MolecularWeight),
		Formula:         string(p.MolecularFormula),
	}, nil
}
