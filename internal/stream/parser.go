package stream

import (
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"polyarb/internal/domain"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// wsLevel is a price level as sent on the wire.
type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsChange is one entry of a price_change event's changes array.
type wsChange struct {
	Price string `json:"price"`
	Side  string `json:"side"`
	Size  string `json:"size"`
}

// wsEvent is a single event from the market channel. A "book" event carries
// the full Bids/Asks arrays; a "price_change" event carries Changes.
type wsEvent struct {
	EventType string     `json:"event_type"`
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Timestamp string     `json:"timestamp"`
	Bids      []wsLevel  `json:"bids"`
	Asks      []wsLevel  `json:"asks"`
	Changes   []wsChange `json:"changes"`
}

// parseFrame decodes one websocket frame. The market channel delivers frames
// as either a single event object or an array of them; both shapes occur in
// practice. Unknown event types are skipped, as are events whose numeric
// fields fail to parse.
func parseFrame(raw []byte) (snaps []domain.BookSnapshot, deltas []domain.BookDelta, err error) {
	events, err := decodeEvents(raw)
	if err != nil {
		return nil, nil, err
	}

	for i := range events {
		ev := &events[i]
		ts := parseTimestamp(ev.Timestamp)
		switch ev.EventType {
		case "book":
			snaps = append(snaps, domain.BookSnapshot{
				AssetID:   ev.AssetID,
				Bids:      parseLevels(ev.Bids),
				Asks:      parseLevels(ev.Asks),
				Timestamp: ts,
			})
		case "price_change":
			for _, ch := range ev.Changes {
				price, perr := strconv.ParseFloat(ch.Price, 64)
				if perr != nil {
					continue
				}
				size, serr := strconv.ParseFloat(ch.Size, 64)
				if serr != nil {
					continue
				}
				deltas = append(deltas, domain.BookDelta{
					AssetID:   ev.AssetID,
					Side:      domain.BookSide(ch.Side),
					Price:     price,
					Size:      size,
					Timestamp: ts,
				})
			}
		}
	}
	return snaps, deltas, nil
}

func decodeEvents(raw []byte) ([]wsEvent, error) {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			var events []wsEvent
			if err := jsonFast.Unmarshal(raw, &events); err != nil {
				return nil, err
			}
			return events, nil
		default:
			var ev wsEvent
			if err := jsonFast.Unmarshal(raw, &ev); err != nil {
				return nil, err
			}
			return []wsEvent{ev}, nil
		}
	}
	return nil, nil
}

func parseLevels(levels []wsLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lv := range levels {
		price, perr := strconv.ParseFloat(lv.Price, 64)
		size, serr := strconv.ParseFloat(lv.Size, 64)
		if perr != nil || serr != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}

// parseTimestamp decodes the channel's millisecond-epoch string. Falls back
// to the local clock for malformed values so book freshness never goes to
// zero time.
func parseTimestamp(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
