package quoter

import (
	"openbook-quoter/book"
	"openbook-quoter/participant"
)

// fairPrices is the order-book-derived starting point for both sides:
// the best resting price per side after excluding our own orders and
// known toxic-flow owners, with predator dampening applied to the ask.
type fairPrices struct {
	Bid   float64
	Ask   float64
	BidOK bool
	AskOK bool
}

// computeFairPrices derives fair bid/ask from a snapshot.
//
// Exclusion: Self orders would make us chase our own quote; Predator
// orders are bait, not price discovery. If exclusion empties a side we
// fall back to the raw best so an empty filtered book never faults the
// tick.
//
// Predator dampening: a predator resting at or inside the filtered best
// ask, within dampenGap of it, drags the fair ask to the mean of the
// two prices. We keep competing near the toxic quote without printing
// straight into it.
//
// The result never inverts: the dampened ask is floored at the fair bid.
func computeFairPrices(snap *book.Snapshot, tiers *participant.TierTable, dampenGap float64) fairPrices {
	var fp fairPrices

	if best, ok := snap.BestBid(); ok {
		fp.Bid = best.Price
		fp.BidOK = true
		for _, o := range snap.Bids {
			tier := tiers.Classify(o.Owner)
			if tier == participant.TierSelf || tier == participant.TierPredator {
				continue
			}
			fp.Bid = o.Price // bids are ordered best-first
			break
		}
	}

	if best, ok := snap.BestAsk(); ok {
		fp.Ask = best.Price
		fp.AskOK = true
		for _, o := range snap.Asks {
			tier := tiers.Classify(o.Owner)
			if tier == participant.TierSelf || tier == participant.TierPredator {
				continue
			}
			fp.Ask = o.Price // asks are ordered best-first
			break
		}

		if predator, ok := bestPredatorAsk(snap, tiers); ok {
			if predator.Price <= fp.Ask && fp.Ask-predator.Price <= dampenGap {
				fp.Ask = (predator.Price + fp.Ask) / 2
			}
		}
	}

	if fp.BidOK && fp.AskOK && fp.Ask < fp.Bid {
		fp.Ask = fp.Bid
	}
	return fp
}

// bestPredatorAsk returns the lowest-priced predator-tier ask.
func bestPredatorAsk(snap *book.Snapshot, tiers *participant.TierTable) (book.Order, bool) {
	for _, o := range snap.Asks {
		if tiers.Classify(o.Owner) == participant.TierPredator {
			return o, true
		}
	}
	return book.Order{}, false
}

// bestSelfOrder returns our best resting order on the side, if any.
// Best means highest bid or lowest ask; side slices are ordered
// best-first, so the first self-owned entry wins.
func bestSelfOrder(snap *book.Snapshot, tiers *participant.TierTable, side book.Side) (book.Order, bool) {
	for _, o := range snap.SideOrders(side) {
		if tiers.Classify(o.Owner) == participant.TierSelf {
			return o, true
		}
	}
	return book.Order{}, false
}

// countSelfOrders counts our resting orders on the side, for the
// duplicate-order reconciliation safeguard.
func countSelfOrders(snap *book.Snapshot, tiers *participant.TierTable, side book.Side) int {
	n := 0
	for _, o := range snap.SideOrders(side) {
		if tiers.Classify(o.Owner) == participant.TierSelf {
			n++
		}
	}
	return n
}
