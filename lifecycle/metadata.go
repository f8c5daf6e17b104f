package lifecycle

import (
	"encoding/json"
	"strings"

	"github.com/AnTengye/casedesk/model"
)

// MetadataMarker separates the human description from the JSON blob that
// older agreements carried in their description field
const MetadataMarker = "[[casedesk:metadata]]"

// ParseLegacyMetadata extracts the metadata blob embedded after
// MetadataMarker. Missing or malformed JSON yields the zero value.
func ParseLegacyMetadata(description string) (model.AgreementMetadata, bool) {
	idx := strings.LastIndex(description, MetadataMarker)
	if idx < 0 {
		return model.AgreementMetadata{}, false
	}

	raw := strings.TrimSpace(description[idx+len(MetadataMarker):])
	if raw == "" {
		return model.AgreementMetadata{}, false
	}

	var meta model.AgreementMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return model.AgreementMetadata{}, false
	}
	return meta, true
}

// StripLegacyMetadata returns the description without the embedded blob
func StripLegacyMetadata(description string) string {
	idx := strings.LastIndex(description, MetadataMarker)
	if idx < 0 {
		return description
	}
	return strings.TrimRight(description[:idx], " \n")
}

// EmbedLegacyMetadata appends meta to the description in the legacy format,
// replacing any blob already present
func EmbedLegacyMetadata(description string, meta model.AgreementMetadata) string {
	base := StripLegacyMetadata(description)
	if meta.IsZero() {
		return base
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return base
	}
	if base == "" {
		return MetadataMarker + string(data)
	}
	return base + "\n\n" + MetadataMarker + string(data)
}

// EffectiveMetadata prefers the typed record and falls back to the legacy
// description blob
func EffectiveMetadata(a *model.Agreement) model.AgreementMetadata {
	if a == nil {
		return model.AgreementMetadata{}
	}
	if !a.Metadata.IsZero() {
		return a.Metadata
	}
	meta, _ := ParseLegacyMetadata(a.Description)
	return meta
}
