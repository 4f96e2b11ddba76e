package wbmodel

// TranslationResult is the per-entity outcome of translating one source
// entity into the target identifier space (spec §3).
type TranslationResult struct {
	Original   *Entity
	Rewritten  *Entity
	MappingUsed map[EntityID]EntityID

	MissingProperties []EntityID
	MissingItems      []EntityID

	CreatedEntity *Entity
	Errors        []string
}

// NewTranslationResult returns a result initialized for translating original.
func NewTranslationResult(original *Entity) *TranslationResult {
	return &TranslationResult{
		Original:    original,
		MappingUsed: make(map[EntityID]EntityID),
	}
}

func (r *TranslationResult) AddMissingProperty(id EntityID) {
	r.MissingProperties = append(r.MissingProperties, id)
}

func (r *TranslationResult) AddMissingItem(id EntityID) {
	r.MissingItems = append(r.MissingItems, id)
}

func (r *TranslationResult) AddMapping(source, target EntityID) {
	r.MappingUsed[source] = target
}

func (r *TranslationResult) AddError(note string) {
	r.Errors = append(r.Errors, note)
}

// TranslationBatch aggregates translation results for a set of source
// entities, keyed by source ID.
type TranslationBatch map[EntityID]*TranslationResult

// UnionMapping returns the union of every result's MappingUsed.
func (b TranslationBatch) UnionMapping() map[EntityID]EntityID {
	out := make(map[EntityID]EntityID)
	for _, r := range b {
		for k, v := range r.MappingUsed {
			out[k] = v
		}
	}
	return out
}

// MissingItems returns the de-duplicated union of every result's MissingItems.
func (b TranslationBatch) MissingItems() []EntityID {
	seen := make(map[EntityID]bool)
	var out []EntityID
	for _, r := range b {
		for _, id := range r.MissingItems {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// MissingProperties returns the de-duplicated union of every result's
// MissingProperties.
func (b TranslationBatch) MissingProperties() []EntityID {
	seen := make(map[EntityID]bool)
	var out []EntityID
	for _, r := range b {
		for _, id := range r.MissingProperties {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// SourceIDs returns the IDs of the original entities in this batch.
func (b TranslationBatch) SourceIDs() []EntityID {
	out := make([]EntityID, 0, len(b))
	for id := range b {
		out = append(out, id)
	}
	return out
}

// TargetEntities returns the rewritten entities of every result in the batch.
func (b TranslationBatch) TargetEntities() []*Entity {
	out := make([]*Entity, 0, len(b))
	for _, r := range b {
		if r.Rewritten != nil {
			out = append(out, r.Rewritten)
		}
	}
	return out
}
