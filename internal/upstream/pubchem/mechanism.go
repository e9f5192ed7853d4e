package pubchem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/helixir/compound-enrichment-service/internal/domain"
)

// MechanismHeading is the profile section holding the mechanism narrative.
const MechanismHeading = "Mechanism of Action"

// UnknownLabel is reported when a profile carries no record title.
const UnknownLabel = "Unknown"

type profileResponse struct {
	Record struct {
		RecordTitle string    `json:"RecordTitle"`
		Section     []Section `json:"Section"`
	} `json:"Record"`
}

// Section is one node of a PUG View profile tree.
type Section struct {
	TOCHeading  string        `json:"TOCHeading"`
	Section     []Section     `json:"Section"`
	Information []Information `json:"Information"`
}

// Information is one data entry of a section.
type Information struct {
	Value     InfoValue         `json:"Value"`
	Reference []json.RawMessage `json:"Reference"`
}

// ValueKind tags the shape an information value arrived in.
type ValueKind int

const (
	// ValueEmpty carries no text.
	ValueEmpty ValueKind = iota
	// ValueMarkup is a StringWithMarkup list of text segments.
	ValueMarkup
	// ValuePlain is a bare string.
	ValuePlain
	// ValueList is an array of strings or objects.
	ValueList
)

// InfoValue is a decoded information value reduced to its text fragments.
type InfoValue struct {
	Kind      ValueKind
	Fragments []string
}

type markupSegment struct {
	String string `json:"String"`
}

// UnmarshalJSON decodes any of the value shapes. Unrecognized shapes decode
// as ValueEmpty.
func (v *InfoValue) UnmarshalJSON(b []byte) error {
	*v = decodeValue(b)
	return nil
}

func decodeValue(b []byte) InfoValue {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return InfoValue{}
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil || s == "" {
			return InfoValue{}
		}
		return InfoValue{Kind: ValuePlain, Fragments: []string{s}}

	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return InfoValue{}
		}
		var frags []string
		for _, r := range raw {
			frags = append(frags, decodeValue(r).Fragments...)
		}
		return InfoValue{Kind: ValueList, Fragments: frags}

	case '{':
		var obj struct {
			StringWithMarkup []markupSegment `json:"StringWithMarkup"`
			String           *string         `json:"String"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return InfoValue{}
		}
		if len(obj.StringWithMarkup) > 0 {
			frags := make([]string, 0, len(obj.StringWithMarkup))
			for _, seg := range obj.StringWithMarkup {
				if seg.String != "" {
					frags = append(frags, seg.String)
				}
			}
			return InfoValue{Kind: ValueMarkup, Fragments: frags}
		}
		if obj.String != nil && *obj.String != "" {
			return InfoValue{Kind: ValuePlain, Fragments: []string{*obj.String}}
		}
	}

	return InfoValue{}
}

// Text joins the value's fragments with newlines.
func (v InfoValue) Text() string {
	return strings.Join(v.Fragments, "\n")
}

// FindSection returns the first section titled heading in depth-first,
// array order, descending at most maxDepth levels.
func FindSection(sections []Section, heading string, maxDepth int) *Section {
	if maxDepth <= 0 {
		return nil
	}
	for i := range sections {
		if sections[i].TOCHeading == heading {
			return &sections[i]
		}
		if found := FindSection(sections[i].Section, heading, maxDepth-1); found != nil {
			return found
		}
	}
	return nil
}

// SectionText concatenates the text of every information entry, separating
// entries with a blank line.
func SectionText(s *Section) string {
	parts := make([]string, 0, len(s.Information))
	for _, info := range s.Information {
		if text := strings.TrimSpace(info.Value.Text()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// FetchMechanism resolves nameOrID and extracts the mechanism-of-action text
// from the compound's PUG View profile.
//
// Not-found compounds and profiles are reported as unsuccessful results. A
// profile without the section, or one that cannot be read, is a successful
// result with HasData false. The error return is reserved for transport
// failures and non-404 failures while resolving the name.
func (c *Client) FetchMechanism(ctx context.Context, nameOrID string) (*domain.MechanismResult, error) {
	query := strings.TrimSpace(nameOrID)

	cid, numeric := ParseCompoundID(query)
	if !numeric {
		compound, err := c.Resolve(ctx, query)
		if err != nil {
			return nil, err
		}
		if compound == nil {
			return domain.NewMechanismFailure(query, "compound not found"), nil
		}
		cid = compound.ID
	}

	resp, err := c.fetcher.Get(ctx, EndpointCompoundProfile, c.profileURL(cid))
	if err != nil {
		return nil, fmt.Errorf("fetch profile for cid %d: %w", cid, err)
	}
	if resp.NotFound() {
		result := domain.NewMechanismFailure(query, "profile not found")
		result.CompoundID = &cid
		return result, nil
	}
	if !resp.OK() {
		result := domain.NewMechanismFailure(query, fmt.Sprintf("profile fetch failed with status %d", resp.StatusCode))
		result.CompoundID = &cid
		return result, nil
	}

	return c.extractMechanism(query, cid, resp.Body), nil
}

func (c *Client) extractMechanism(query string, cid int64, body []byte) (result *domain.MechanismResult) {
	label := UnknownLabel
	result = &domain.MechanismResult{
		Query:         query,
		Success:       true,
		CompoundID:    &cid,
		CompoundLabel: &label,
		References:    []json.RawMessage{},
	}

	// A panic while walking the document degrades to no data.
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Int64("cid", cid).Msg("mechanism extraction panicked")
			result.Mechanism = nil
			result.HasData = false
			result.References = []json.RawMessage{}
		}
	}()

	var doc profileResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		c.logger.Warn().Err(err).Int64("cid", cid).Msg("malformed profile response")
		return result
	}
	if title := strings.TrimSpace(doc.Record.RecordTitle); title != "" {
		label = title
	}

	section := FindSection(doc.Record.Section, MechanismHeading, MaxSectionDepth)
	if section == nil {
		return result
	}

	text := SectionText(section)
	if text == "" {
		return result
	}
	result.Mechanism = &text
	result.HasData = true
	if len(section.Information) > 0 && section.Information[0].Reference != nil {
		result.References = section.Information[0].Reference
	}
	return result
}
