package pubchem

import (
	"bytes"
	"encoding/json"
	"strings"
)

// TargetKind tags the shape an assay target field arrived in.
type TargetKind int

const (
	// TargetAbsent means no target was given.
	TargetAbsent TargetKind = iota
	// TargetPlain is a bare string.
	TargetPlain
	// TargetList is an array whose items are plain or tagged targets.
	TargetList
	// TargetTagged is an object carrying a name-like property.
	TargetTagged
)

// targetNameKeys are probed in order on tagged target objects.
var targetNameKeys = []string{"Name", "name", "TargetName", "Title", "title"}

// TargetField is the decoded assay target. Exactly one of Text or Items is
// meaningful depending on Kind.
type TargetField struct {
	Kind  TargetKind
	Text  string
	Items []TargetField
}

// UnmarshalJSON decodes any of the target shapes. Unrecognized shapes decode
// as TargetAbsent rather than failing the whole summary.
func (t *TargetField) UnmarshalJSON(b []byte) error {
	*t = decodeTarget(b)
	return nil
}

func decodeTarget(b []byte) TargetField {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return TargetField{}
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return TargetField{}
		}
		return TargetField{Kind: TargetPlain, Text: s}

	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return TargetField{}
		}
		items := make([]TargetField, 0, len(raw))
		for _, r := range raw {
			item := decodeTarget(r)
			if item.Kind == TargetPlain || item.Kind == TargetTagged {
				items = append(items, item)
			}
		}
		return TargetField{Kind: TargetList, Items: items}

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(b, &obj); err != nil {
			return TargetField{}
		}
		for _, key := range targetNameKeys {
			var name string
			if v, ok := obj[key]; ok && json.Unmarshal(v, &name) == nil {
				return TargetField{Kind: TargetTagged, Text: name}
			}
		}
		return TargetField{Kind: TargetTagged}
	}

	return TargetField{}
}

// String normalizes the target to a single ", "-joined string. Absent
// targets and nameless items contribute nothing.
func (t TargetField) String() string {
	switch t.Kind {
	case TargetPlain, TargetTagged:
		return strings.TrimSpace(t.Text)
	case TargetList:
		parts := make([]string, 0, len(t.Items))
		for _, item := range t.Items {
			if s := item.String(); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}
