package codec

import (
	"github.com/go-faster/jx"

	"github.com/xenking/pos-settlement/internal/domain/drawer"
	"github.com/xenking/pos-settlement/internal/domain/tender"
)

// Tenders writes tender entries.
func Tenders(e *jx.Encoder, entries []tender.Entry) {
	e.ArrStart()
	for _, t := range entries {
		e.ObjStart()
		e.FieldStart("method")
		e.Str(string(t.Method))
		e.FieldStart("amount")
		Money(e, t.Amount)
		if t.Method == tender.MethodCash {
			e.FieldStart("amount_tendered")
			Money(e, t.AmountTendered)
		}
		if t.Reference != "" {
			e.FieldStart("reference")
			e.Str(t.Reference)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

// DecodeTenders reads tender entries. The method is taken as is; the
// allocator rejects unknown methods.
func DecodeTenders(d *jx.Decoder) ([]tender.Entry, error) {
	var entries []tender.Entry
	err := d.Arr(func(d *jx.Decoder) error {
		var t tender.Entry
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "method":
				var s string
				s, err = d.Str()
				t.Method = tender.Method(s)
			case "amount":
				t.Amount, err = DecodeMoney(d)
			case "amount_tendered":
				t.AmountTendered, err = DecodeMoney(d)
			case "reference":
				t.Reference, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		entries = append(entries, t)
		return nil
	})
	return entries, err
}

// Movements writes drawer movements.
func Movements(e *jx.Encoder, movements []drawer.Movement) {
	e.ArrStart()
	for _, m := range movements {
		e.ObjStart()
		e.FieldStart("type")
		e.Str(string(m.Type))
		e.FieldStart("amount")
		Money(e, m.Amount)
		e.FieldStart("reason")
		e.Str(m.Reason)
		if m.SaleID != "" {
			e.FieldStart("sale_id")
			e.Str(m.SaleID)
		}
		e.FieldStart("at")
		Time(e, m.At)
		e.ObjEnd()
	}
	e.ArrEnd()
}

// DecodeMovements reads drawer movements.
func DecodeMovements(d *jx.Decoder) ([]drawer.Movement, error) {
	var movements []drawer.Movement
	err := d.Arr(func(d *jx.Decoder) error {
		var m drawer.Movement
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "type":
				var s string
				s, err = d.Str()
				m.Type = drawer.MovementType(s)
			case "amount":
				m.Amount, err = DecodeMoney(d)
			case "reason":
				m.Reason, err = d.Str()
			case "sale_id":
				m.SaleID, err = d.Str()
			case "at":
				m.At, err = DecodeTime(d)
			default:
				err = d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		movements = append(movements, m)
		return nil
	})
	return movements, err
}

// Breakdown writes a denomination count.
func Breakdown(e *jx.Encoder, counts []drawer.DenominationCount) {
	e.ArrStart()
	for _, c := range counts {
		e.ObjStart()
		e.FieldStart("denomination")
		Money(e, c.Denomination)
		e.FieldStart("count")
		e.Int(c.Count)
		e.ObjEnd()
	}
	e.ArrEnd()
}

// DecodeBreakdown reads a denomination count.
func DecodeBreakdown(d *jx.Decoder) ([]drawer.DenominationCount, error) {
	counts := []drawer.DenominationCount{}
	err := d.Arr(func(d *jx.Decoder) error {
		var c drawer.DenominationCount
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "denomination":
				c.Denomination, err = DecodeMoney(d)
			case "count":
				c.Count, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		counts = append(counts, c)
		return nil
	})
	return counts, err
}
