// Package domain holds the data model and error taxonomy shared by the
// compound enrichment service.
package domain

import (
	"encoding/json"
	"strings"
)

// SourcePubChem is the constant source tag stamped on every assay record.
const SourcePubChem = "PubChem"

// Assay categories derived from an assay's method string.
const (
	CategoryScreening    = "Screening"
	CategoryConfirmatory = "Confirmatory"
	CategorySummary      = "Summary"
	CategoryOther        = "Other"
	CategoryUnknown      = "Unknown"
)

// BioassayAny is the filter value that disables category filtering.
const BioassayAny = "Any"

// Search defaults.
const (
	// DefaultMaxResults is the record cap used when a caller supplies none.
	DefaultMaxResults = 100
	// DefaultMaxResultsCeiling is the highest cap a cache key can carry.
	DefaultMaxResultsCeiling = 200
)

// CompoundRecord is a resolved compound from the upstream database.
// Optional properties are empty strings, never absent.
type CompoundRecord struct {
	ID              int64  `json:"cid"`
	Name            string `json:"name"`
	StructureString string `json:"structure"`
	Mass            string `json:"mass"`
	Formula         string `json:"formula"`
}

// AssayRecord is one filtered bioassay row annotated with its compound.
// Field names are part of the external result format.
type AssayRecord struct {
	MoleculeName     string `json:"MoleculeName" bson:"MoleculeName"`
	CompoundID       int64  `json:"CompoundId" bson:"CompoundId"`
	StructureString  string `json:"StructureString" bson:"StructureString"`
	MolecularWeight  string `json:"MolecularWeight" bson:"MolecularWeight"`
	MolecularFormula string `json:"MolecularFormula" bson:"MolecularFormula"`
	AssayID          int64  `json:"AssayId" bson:"AssayId"`
	AssayName        string `json:"AssayName" bson:"AssayName"`
	AssayType        string `json:"AssayType" bson:"AssayType"`
	Category         string `json:"Category" bson:"Category"`
	TargetClass      string `json:"TargetClass" bson:"TargetClass"`
	Source           string `json:"Source" bson:"Source"`
}

// NewAssayRecord builds a record for the given compound with the source tag set.
func NewAssayRecord(c CompoundRecord, assayID int64, name, assayType, category, targetClass string) AssayRecord {
	return AssayRecord{
		MoleculeName:     c.Name,
		CompoundID:       c.ID,
		StructureString:  c.StructureString,
		MolecularWeight:  c.Mass,
		MolecularFormula: c.Formula,
		AssayID:          assayID,
		AssayName:        name,
		AssayType:        assayType,
		Category:         category,
		TargetClass:      targetClass,
		Source:           SourcePubChem,
	}
}

// IsAnyBioassay reports whether filter disables category filtering.
func IsAnyBioassay(filter string) bool {
	f := strings.TrimSpace(filter)
	return f == "" || strings.EqualFold(f, BioassayAny)
}

// MechanismResult is the outcome of a mechanism-of-action lookup.
type MechanismResult struct {
	Query         string            `json:"query,omitempty"`
	Success       bool              `json:"success"`
	CompoundID    *int64            `json:"compound_id"`
	CompoundLabel *string           `json:"compound_label"`
	Mechanism     *string           `json:"mechanism"`
	HasData       bool              `json:"has_data"`
	References    []json.RawMessage `json:"references"`
	Error         string            `json:"error,omitempty"`
}

// NewMechanismFailure returns an unsuccessful result carrying message.
func NewMechanismFailure(query, message string) *MechanismResult {
	return &MechanismResult{
		Query:      query,
		Success:    false,
		References: []json.RawMessage{},
		Error:      message,
	}
}
