package codec

import (
	"github.com/go-faster/jx"

	"github.com/xenking/pos-settlement/internal/domain/cart"
)

// Lines writes cart lines.
func Lines(e *jx.Encoder, lines []cart.Line) {
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("line_id")
		e.Str(l.ID)
		if l.ProductID != "" {
			e.FieldStart("product_id")
			e.Str(l.ProductID)
		}
		e.FieldStart("unit_price")
		Money(e, l.UnitPrice)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("line_discount")
		Money(e, l.LineDiscount)
		e.ObjEnd()
	}
	e.ArrEnd()
}

// DecodeLines reads cart lines. Values are not validated here.
func DecodeLines(d *jx.Decoder) ([]cart.Line, error) {
	var lines []cart.Line
	err := d.Arr(func(d *jx.Decoder) error {
		var l cart.Line
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "line_id":
				l.ID, err = d.Str()
			case "product_id":
				l.ProductID, err = d.Str()
			case "unit_price":
				l.UnitPrice, err = DecodeMoney(d)
			case "quantity":
				l.Quantity, err = d.Int()
			case "line_discount":
				l.LineDiscount, err = DecodeMoney(d)
			default:
				err = d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	})
	return lines, err
}
