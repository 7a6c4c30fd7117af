package feed

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"clobbook/internal/book"
)

// envelope is decoded first from every inbound frame to learn its type
// before committing to a concrete message shape.
type envelope struct {
	Type string `json:"type"`
}

// levelRow is one [price, size] or [price, size, id] tuple as used by
// snapshot bids/asks. decimal.Decimal already accepts both quoted-string
// and bare-number JSON forms, so only the tuple shape needs custom
// unmarshaling.
type levelRow struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	ID    string
}

func (r *levelRow) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("feed: level row is not a tuple: %w", err)
	}
	if len(raw) < 2 {
		return fmt.Errorf("feed: level row has %d fields, want at least 2", len(raw))
	}
	if err := json.Unmarshal(raw[0], &r.Price); err != nil {
		return fmt.Errorf("feed: level row price: %w", err)
	}
	if err := json.Unmarshal(raw[1], &r.Size); err != nil {
		return fmt.Errorf("feed: level row size: %w", err)
	}
	if len(raw) > 2 {
		if err := json.Unmarshal(raw[2], &r.ID); err != nil {
			return fmt.Errorf("feed: level row id: %w", err)
		}
	}
	return nil
}

// changeRow is one [side, price, size] tuple as used by l2update.changes.
type changeRow struct {
	Side  book.Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

func (r *changeRow) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("feed: change row is not a tuple: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("feed: change row has %d fields, want 3", len(raw))
	}
	var sideStr string
	if err := json.Unmarshal(raw[0], &sideStr); err != nil {
		return fmt.Errorf("feed: change row side: %w", err)
	}
	side, err := parseSide(sideStr)
	if err != nil {
		return err
	}
	r.Side = side
	if err := json.Unmarshal(raw[1], &r.Price); err != nil {
		return fmt.Errorf("feed: change row price: %w", err)
	}
	if err := json.Unmarshal(raw[2], &r.Size); err != nil {
		return fmt.Errorf("feed: change row size: %w", err)
	}
	return nil
}

func parseSide(s string) (book.Side, error) {
	switch s {
	case "buy":
		return book.Buy, nil
	case "sell":
		return book.Sell, nil
	default:
		return 0, fmt.Errorf("feed: unrecognized side %q", s)
	}
}

type subscriptionsMsg struct {
	Channels json.RawMessage `json:"channels"`
}

type heartbeatMsg struct {
	ProductID string          `json:"product_id"`
	Sequence  json.RawMessage `json:"sequence"`
}

type snapshotMsg struct {
	ProductID string     `json:"product_id"`
	Bids      []levelRow `json:"bids"`
	Asks      []levelRow `json:"asks"`
}

type l2UpdateMsg struct {
	ProductID string      `json:"product_id"`
	Changes   []changeRow `json:"changes"`
}

type tickerMsg struct {
	ProductID   string          `json:"product_id"`
	BestBid     decimal.Decimal `json:"best_bid"`
	BestBidSize decimal.Decimal `json:"best_bid_size"`
	BestAsk     decimal.Decimal `json:"best_ask"`
	BestAskSize decimal.Decimal `json:"best_ask_size"`
	Sequence    json.RawMessage `json:"sequence"`
}

// l3Msg covers open/received/done/match/change — the union of every field
// any of those types carries. Fields irrelevant to a given type are left
// zero and ignored by the dispatcher. Price/Size/NewSize are pointers so a
// field that is absent from the frame decodes to nil rather than the
// indistinguishable decimal zero value — the dispatcher treats a required
// nil as a parse error instead of silently applying a zero.
type l3Msg struct {
	Type         string           `json:"type"`
	ProductID    string           `json:"product_id"`
	OrderID      string           `json:"order_id"`
	Side         string           `json:"side"`
	Price        *decimal.Decimal `json:"price"`
	Size         *decimal.Decimal `json:"size"`
	NewSize      *decimal.Decimal `json:"new_size"`
	MakerOrderID string           `json:"maker_order_id"`
}

type errorMsg struct {
	Message string `json:"message"`
}

// subscribeMsg is an outbound subscription control message.
type subscribeMsg struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}
