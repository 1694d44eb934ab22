package market

import (
	"encoding/binary"
	"encoding/json"
	"hash/fnv"
	"math"
	"strconv"
)

// Side 标识订单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// BookEntry is one price level of an order book side.
type BookEntry struct {
	Price  float64
	Volume float64
}

// OrderBook is a snapshot of exchange depth, best price first on each side.
type OrderBook struct {
	Bids []BookEntry
	Asks []BookEntry
}

// Empty reports whether either side of the book is missing.
func (b OrderBook) Empty() bool {
	return len(b.Bids) == 0 || len(b.Asks) == 0
}

// UnmarshalJSON parses the {"bids": [[price, volume], ...], "asks": [...]}
// wire shape. Prices and volumes may arrive as numbers or strings. Entries
// with the wrong arity or non-numeric fields are dropped individually
// instead of failing the whole snapshot.
func (b *OrderBook) UnmarshalJSON(data []byte) error {
	var raw struct {
		Bids [][]interface{} `json:"bids"`
		Asks [][]interface{} `json:"asks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Bids = parseEntries(raw.Bids)
	b.Asks = parseEntries(raw.Asks)
	return nil
}

// MarshalJSON emits the same [[price, volume], ...] wire shape.
func (b OrderBook) MarshalJSON() ([]byte, error) {
	type wire struct {
		Bids [][2]float64 `json:"bids"`
		Asks [][2]float64 `json:"asks"`
	}
	w := wire{
		Bids: make([][2]float64, 0, len(b.Bids)),
		Asks: make([][2]float64, 0, len(b.Asks)),
	}
	for _, e := range b.Bids {
		w.Bids = append(w.Bids, [2]float64{e.Price, e.Volume})
	}
	for _, e := range b.Asks {
		w.Asks = append(w.Asks, [2]float64{e.Price, e.Volume})
	}
	return json.Marshal(w)
}

// Hash returns a stable structural hash of the full book content, used as
// part of the depth-analysis cache key.
func (b OrderBook) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	write := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	for _, e := range b.Bids {
		write(e.Price)
		write(e.Volume)
	}
	h.Write([]byte{'|'})
	for _, e := range b.Asks {
		write(e.Price)
		write(e.Volume)
	}
	return h.Sum64()
}

func parseEntries(rows [][]interface{}) []BookEntry {
	out := make([]BookEntry, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, ok := toFloat(row[0])
		if !ok {
			continue
		}
		volume, ok := toFloat(row[1])
		if !ok {
			continue
		}
		out = append(out, BookEntry{Price: price, Volume: volume})
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
