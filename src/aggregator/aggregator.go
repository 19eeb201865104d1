// Package aggregator reconciles raw per-fill execution records into
// round-trip trades. It is pure over its input and is shared by the
// file parsers and the remote bridge so both paths produce identical
// trades for the same fills.
package aggregator

import (
	"fmt"
	"sort"

	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
	"github.com/username/tradelog/backend/src/parsers/fields"
)

// Aggregate groups fills by position key and emits one CanonicalTrade
// per fully closed position. Groups missing an entry or exit partition
// are not yet reconcilable and are dropped, not emitted.
func Aggregate(deals []models.RawDeal, provider, login string) []models.CanonicalTrade {
	groups := make(map[string][]models.RawDeal)
	var order []string
	for _, d := range deals {
		key := d.PositionKey
		if key == "" {
			key = d.ExternalID
		}
		if key == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], d)
	}

	var trades []models.CanonicalTrade
	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		var entries, exits []models.RawDeal
		for i, d := range group {
			switch d.EntryMarker {
			case models.EntryIn:
				entries = append(entries, d)
			case models.EntryOut, models.EntryBoth:
				exits = append(exits, d)
			default:
				// Unmarked sources: first fill opens, the rest close.
				if i == 0 {
					entries = append(entries, d)
				} else {
					exits = append(exits, d)
				}
			}
		}

		if len(entries) == 0 || len(exits) == 0 {
			if logger.L != nil {
				logger.L.Debug("Dropping unreconcilable position group", "positionKey", key, "entries", len(entries), "exits", len(exits))
			}
			continue
		}

		direction, ok := fields.ParseSide(entries[0].SideHint)
		if !ok {
			if logger.L != nil {
				logger.L.Warn("Dropping position group with unrecognized side", "positionKey", key, "sideHint", entries[0].SideHint)
			}
			continue
		}

		entryPrice, entryVolume := vwap(entries)
		exitPrice, _ := vwap(exits)
		if entryVolume <= 0 {
			continue
		}

		var pnl float64
		for _, d := range group {
			pnl += d.Profit + d.Commission + d.Swap
		}

		trade := models.CanonicalTrade{
			Symbol:      fields.NormalizeSymbol(entries[0].Symbol),
			Direction:   direction,
			EntryPrice:  entryPrice,
			ExitPrice:   exitPrice,
			Quantity:    entryVolume,
			Pnl:         pnl,
			PnlPercent:  pnlPercent(direction, entryPrice, exitPrice),
			OpenTime:    entries[0].Timestamp,
			CloseTime:   exits[len(exits)-1].Timestamp,
			Provider:    provider,
			Login:       login,
			PositionKey: key,
			ExternalID:  exits[len(exits)-1].ExternalID,
			SourceKey:   models.SourceKey(provider, login, key),
			Provenance:  fmt.Sprintf("aggregated from %d fills (%d in, %d out)", len(group), len(entries), len(exits)),
		}
		trades = append(trades, trade)
	}
	return trades
}

// vwap returns the volume-weighted average price and the total volume
// of a fill partition.
func vwap(deals []models.RawDeal) (price, volume float64) {
	var weighted float64
	for _, d := range deals {
		weighted += d.Price * d.Volume
		volume += d.Volume
	}
	if volume == 0 {
		return 0, 0
	}
	return weighted / volume, volume
}

func pnlPercent(direction models.Direction, entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	pct := (exit - entry) / entry * 100
	if direction == models.DirectionShort {
		pct = -pct
	}
	return pct
}
