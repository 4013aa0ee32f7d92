package cache

import (
	"strconv"
	"time"
)

// Metadata relation names, always declared by the assembler when any
// user or derived predicate is required.
const (
	MetaFact            = "_fact"
	MetaConfidence      = "_confidence"
	MetaSource          = "_source"
	MetaSupersedes      = "_supersedes"
	MetaCreatedAt       = "_created_at"
	MetaExpiresAt       = "_expires_at"
	MetaNow             = "_now"
	MetaExpired         = "_expired"
	MetaValidationError = "_validation_error"
)

// MetadataRelations lists every structural metadata relation except
// _validation_error, _now and _expired. _validation_error is truncated
// and appended to separately during each regeneration batch; _now is
// injected per query; _expired is a derived rule, not a file.
var MetadataRelations = []string{
	MetaFact, MetaConfidence, MetaSource, MetaSupersedes, MetaCreatedAt, MetaExpiresAt,
}

// iso8601 renders t with a fixed-width seconds/offset encoding so that
// lexical comparisons in generated rules (e.g. _expired) behave like
// chronological ones.
func iso8601(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// metadataRows builds the rows for every relation in MetadataRelations
// from a fact-table snapshot.
func metadataRows(snap factSnapshot) map[string][][]string {
	out := map[string][][]string{
		MetaFact:       nil,
		MetaConfidence: nil,
		MetaSource:     nil,
		MetaSupersedes: nil,
		MetaCreatedAt:  nil,
		MetaExpiresAt:  nil,
	}

	for rkey, cfd := range snap.byRkey {
		out[MetaFact] = append(out[MetaFact], []string{rkey, cfd.Fact.Predicate, cfd.Cid})
		out[MetaCreatedAt] = append(out[MetaCreatedAt], []string{rkey, iso8601(cfd.Fact.CreatedAt)})
		if cfd.Fact.Confidence != nil && *cfd.Fact.Confidence != 1.0 {
			out[MetaConfidence] = append(out[MetaConfidence], []string{rkey, strconv.FormatFloat(*cfd.Fact.Confidence, 'g', -1, 64)})
		}
		if cfd.Fact.Source != nil {
			out[MetaSource] = append(out[MetaSource], []string{rkey, *cfd.Fact.Source})
		}
		if cfd.Fact.ExpiresAt != nil {
			out[MetaExpiresAt] = append(out[MetaExpiresAt], []string{rkey, iso8601(*cfd.Fact.ExpiresAt)})
		}
	}
	for newRkey, oldRkey := range snap.supersedesEdges {
		out[MetaSupersedes] = append(out[MetaSupersedes], []string{newRkey, oldRkey})
	}

	return out
}
