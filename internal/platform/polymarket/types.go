package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"polyarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") because the
// Gamma API sends "active" both ways depending on the endpoint.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent groups related markets under one slug on the Gamma API.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  bool        `json:"closed"`
	Markets []APIMarket `json:"markets"`
}

// APIMarket is a market as returned by the Gamma API. Outcomes and
// ClobTokenIDs arrive as JSON-encoded strings inside the JSON document.
type APIMarket struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`
	Slug            string   `json:"slug"`
	ConditionID     string   `json:"conditionId"`
	Active          flexBool `json:"active"`
	Closed          bool     `json:"closed"`
	AcceptingOrders bool     `json:"acceptingOrders"`
	EnableOrderBook bool     `json:"enableOrderBook"`
	Outcomes        string   `json:"outcomes"`     // e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs    string   `json:"clobTokenIds"` // e.g. "[\"123\",\"456\"]"
	NegRisk         bool     `json:"negRisk"`
	MinTickSize     float64  `json:"orderPriceMinTickSize"`
	MinOrderSize    float64  `json:"orderMinSize"`
	UpdatedAt       string   `json:"updatedAt"`
}

// ToDomainMarket converts a Gamma market to a domain.Market. Token IDs are
// paired with outcomes by position; a market whose outcomes are not exactly
// Yes/No converts with empty token IDs and therefore fails Tradable().
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:           m.ConditionID,
		Question:     m.Question,
		Slug:         m.Slug,
		TickSize:     m.MinTickSize,
		MinOrderSize: m.MinOrderSize,
		NegRisk:      m.NegRisk,
	}
	if dm.ID == "" {
		dm.ID = m.ID
	}

	if m.Closed || !bool(m.Active) || !m.AcceptingOrders {
		dm.Status = domain.MarketStatusClosed
	} else {
		dm.Status = domain.MarketStatusActive
	}

	var outcomes, tokenIDs []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
		return dm
	}
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil {
		return dm
	}
	for i, outcome := range outcomes {
		if i >= len(tokenIDs) {
			break
		}
		switch {
		case strings.EqualFold(outcome, "Yes"):
			dm.YesTokenID = tokenIDs[i]
		case strings.EqualFold(outcome, "No"):
			dm.NoTokenID = tokenIDs[i]
		}
	}

	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}
	return dm
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response to an order submission.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APIOpenOrder is an order as returned by GET /order/{id}, used to poll the
// fill state of a resting order.
type APIOpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// ToDomainResult converts an open-order record into an OrderResult reflecting
// its current fill state.
func (o *APIOpenOrder) ToDomainResult() domain.OrderResult {
	res := domain.OrderResult{OrderID: o.ID}
	res.FilledPrice, _ = strconv.ParseFloat(o.Price, 64)
	res.FilledSize, _ = strconv.ParseFloat(o.SizeMatched, 64)
	orig, _ := strconv.ParseFloat(o.OriginalSize, 64)

	switch {
	case o.Status == "canceled" || o.Status == "cancelled":
		res.Status = domain.OrderStatusCanceled
	case orig > 0 && res.FilledSize >= orig:
		res.Status = domain.OrderStatusFilled
	case res.FilledSize > 0:
		res.Status = domain.OrderStatusPartial
	default:
		res.Status = domain.OrderStatusAccepted
	}
	return res
}
