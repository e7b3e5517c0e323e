// Package participant classifies resting orders by owner identity.
//
// Tier tables are assembled once at startup from configuration and are
// never mutated afterwards, so Classify is safe to call from any goroutine.
package participant

// Tier is the classification of a resting order's owner.
type Tier int

const (
	// TierUnknown is any owner not present in the tables.
	TierUnknown Tier = iota
	// TierSelf is the engine's own open-orders identity.
	TierSelf
	// TierCompetitor is a known competing market maker whose presence
	// ahead of our quote triggers defensive widening and fee escalation.
	TierCompetitor
	// TierPredator is a known toxic-flow source. Predator orders are
	// excluded from fair-price computation and kept at a distance.
	TierPredator
)

func (t Tier) String() string {
	switch t {
	case TierSelf:
		return "SELF"
	case TierCompetitor:
		return "COMPETITOR"
	case TierPredator:
		return "PREDATOR"
	default:
		return "UNKNOWN"
	}
}

// TierTable maps owner identities to tiers. Self wins over every other
// tier; predator wins over competitor when an identity is listed in both.
type TierTable struct {
	self        string
	competitors map[string]struct{}
	predators   map[string]struct{}
}

// NewTierTable builds an immutable table from identity lists.
func NewTierTable(self string, competitors, predators []string) *TierTable {
	t := &TierTable{
		self:        self,
		competitors: make(map[string]struct{}, len(competitors)),
		predators:   make(map[string]struct{}, len(predators)),
	}
	for _, id := range competitors {
		t.competitors[id] = struct{}{}
	}
	for _, id := range predators {
		t.predators[id] = struct{}{}
	}
	return t
}

// Classify returns the tier for an owner identity. O(1), no side effects.
func (t *TierTable) Classify(owner string) Tier {
	if owner == t.self {
		return TierSelf
	}
	if _, ok := t.predators[owner]; ok {
		return TierPredator
	}
	if _, ok := t.competitors[owner]; ok {
		return TierCompetitor
	}
	return TierUnknown
}

// Self returns the engine's own identity.
func (t *TierTable) Self() string {
	return t.self
}
