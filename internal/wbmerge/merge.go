// Package wbmerge folds a translated source entity into an existing
// target entity: statements are deduplicated by content hash, qualifiers
// and references union, and sitelinks follow a keep-or-replace policy.
package wbmerge

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"

	"github.com/wikimove/wikimove/internal/wbmodel"
)

// ActionIfExists selects how a sitelink collision is resolved.
type ActionIfExists int

const (
	// Keep leaves the target's existing sitelink untouched (default).
	Keep ActionIfExists = iota
	// ReplaceAll overwrites the target's sitelink unconditionally.
	ReplaceAll
)

// Policy configures Merge's behavior beyond the spec-mandated defaults
// for labels/descriptions/aliases/statements.
type Policy struct {
	Sitelinks ActionIfExists
}

// Merge folds source into target in place and returns target (spec.md
// §4.4's contract: "merge(source-rewritten, target-existing) → merged
// where merged mutates target-existing in place").
func Merge(source, target *wbmodel.Entity, policy Policy) *wbmodel.Entity {
	mergeLabels(source, target)
	mergeDescriptions(source, target)
	mergeAliases(source, target)
	mergeSitelinks(source, target, policy)
	mergeStatements(source, target)
	return target
}

func mergeLabels(source, target *wbmodel.Entity) {
	for lang, label := range source.Labels {
		if _, exists := target.Labels[lang]; !exists {
			target.Labels[lang] = label
		}
	}
}

func mergeDescriptions(source, target *wbmodel.Entity) {
	for lang, desc := range source.Descriptions {
		if _, exists := target.Descriptions[lang]; !exists {
			target.Descriptions[lang] = desc
		}
	}
}

// mergeAliases always unions (APPEND_OR_REPLACE), regardless of the
// keep-by-default rule that governs labels/descriptions/sitelinks.
func mergeAliases(source, target *wbmodel.Entity) {
	for lang, values := range source.Aliases {
		existing := stringSetOf(target.Aliases[lang])
		for _, v := range values {
			if !existing[v] {
				existing[v] = true
				target.Aliases[lang] = append(target.Aliases[lang], v)
			}
		}
	}
}

func stringSetOf(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func mergeSitelinks(source, target *wbmodel.Entity, policy Policy) {
	if source.Sitelinks == nil {
		return
	}
	if target.Sitelinks == nil {
		target.Sitelinks = make(map[string]wbmodel.Sitelink)
	}
	for site, sl := range source.Sitelinks {
		if _, exists := target.Sitelinks[site]; !exists || policy.Sitelinks == ReplaceAll {
			target.Sitelinks[site] = sl
		}
	}
}

// mergeStatements implements spec.md §4.4's statement/qualifier/reference
// merge algorithm.
func mergeStatements(source, target *wbmodel.Entity) {
	for _, claim := range source.Claims {
		hash := datavalueHash(claim.Mainsnak)
		if i, ok := findMergeableClaim(target.Claims, claim, hash); ok {
			mergeInto(&target.Claims[i], claim)
			continue
		}
		target.Claims = append(target.Claims, claim)
	}
	for i := range target.Claims {
		target.Claims[i].RefreshQualifiersOrder()
	}
}

// findMergeableClaim locates a target claim eligible to absorb claim, per
// spec.md §4.4 step 1: same property, equal main-snak content hash, and
// at least one of the two claims has no qualifiers.
func findMergeableClaim(candidates []wbmodel.Claim, claim wbmodel.Claim, hash uint64) (int, bool) {
	for i, existing := range candidates {
		if existing.Mainsnak.Property != claim.Mainsnak.Property {
			continue
		}
		if datavalueHash(existing.Mainsnak) != hash {
			continue
		}
		if len(existing.Qualifiers) != 0 && len(claim.Qualifiers) != 0 {
			continue
		}
		return i, true
	}
	return 0, false
}

func mergeInto(target *wbmodel.Claim, source wbmodel.Claim) {
	existingHashes := make(map[wbmodel.EntityID]map[uint64]bool)
	for pid, snaks := range target.Qualifiers {
		existingHashes[pid] = make(map[uint64]bool, len(snaks))
		for _, s := range snaks {
			existingHashes[pid][datavalueHash(s)] = true
		}
	}
	for _, pid := range source.QualifiersOrder {
		for _, s := range source.Qualifiers[pid] {
			h := datavalueHash(s)
			if existingHashes[pid][h] {
				continue
			}
			target.AddQualifier(s)
			if existingHashes[pid] == nil {
				existingHashes[pid] = make(map[uint64]bool)
			}
			existingHashes[pid][h] = true
		}
	}

	existingRefHashes := make(map[uint64]bool, len(target.References))
	for _, ref := range target.References {
		existingRefHashes[referenceHash(ref)] = true
	}
	for _, ref := range source.References {
		h := referenceHash(ref)
		if existingRefHashes[h] {
			continue
		}
		target.References = append(target.References, ref)
		existingRefHashes[h] = true
	}
}

// datavalueHash is the content hash of a snak's datavalue: a stable
// serialization with sorted keys, hashed with xxhash. Snaks without a
// known value (somevalue/novalue) hash on their snaktype and property
// alone, so that e.g. two distinct novalue snaks on the same property
// collide (they are semantically identical "no value" assertions).
func datavalueHash(s wbmodel.Snak) uint64 {
	if s.Type != wbmodel.KnownValue || s.Value == nil {
		return xxhash.Sum64String(string(s.Property) + "|" + s.Type.String())
	}
	// encoding/json.Marshal sorts map[string]T keys alphabetically on
	// marshal, which is the one fact this hash leans on to produce a
	// stable serialization without a bespoke key-sorting walk.
	raw, err := json.Marshal(s.Value.AsMap(s.Datatype))
	if err != nil {
		return xxhash.Sum64String(string(s.Property))
	}
	return xxhash.Sum64(raw)
}

// referenceHash is the commutative (order-insensitive) sum of a
// reference group's snak hashes, intentionally wrapping on overflow.
func referenceHash(ref wbmodel.ReferenceGroup) uint64 {
	var sum uint64
	for _, s := range ref.Snaks {
		sum += datavalueHash(s)
	}
	return sum
}
