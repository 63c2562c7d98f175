package codec

import (
	"github.com/go-faster/jx"

	"github.com/xenking/pos-settlement/internal/domain/promotion"
)

// Rules writes promotion rules, omitting zero fields.
func Rules(e *jx.Encoder, r promotion.Rules) {
	e.ObjStart()
	if len(r.ProductIDs) > 0 {
		e.FieldStart("product_ids")
		Strings(e, r.ProductIDs)
	}
	intField(e, "minimum_quantity", r.MinimumQuantity)
	if r.MinimumSubtotal != 0 {
		e.FieldStart("minimum_subtotal")
		Money(e, r.MinimumSubtotal)
	}
	intField(e, "buy_quantity", r.BuyQuantity)
	intField(e, "free_quantity", r.FreeQuantity)
	if !r.Percent.IsZero() {
		e.FieldStart("percent")
		Decimal(e, r.Percent)
	}
	if r.Amount != 0 {
		e.FieldStart("amount")
		Money(e, r.Amount)
	}
	if r.SpecialPrice != 0 {
		e.FieldStart("special_price")
		Money(e, r.SpecialPrice)
	}
	intField(e, "max_quantity", r.MaxQuantity)
	if r.GiftProductID != "" {
		e.FieldStart("gift_product_id")
		e.Str(r.GiftProductID)
	}
	intField(e, "gift_quantity", r.GiftQuantity)
	e.ObjEnd()
}

func intField(e *jx.Encoder, name string, v int) {
	if v == 0 {
		return
	}
	e.FieldStart(name)
	e.Int(v)
}

// DecodeRules reads promotion rules.
func DecodeRules(d *jx.Decoder) (promotion.Rules, error) {
	var r promotion.Rules
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_ids":
			r.ProductIDs, err = DecodeStrings(d)
		case "minimum_quantity":
			r.MinimumQuantity, err = d.Int()
		case "minimum_subtotal":
			r.MinimumSubtotal, err = DecodeMoney(d)
		case "buy_quantity":
			r.BuyQuantity, err = d.Int()
		case "free_quantity":
			r.FreeQuantity, err = d.Int()
		case "percent":
			r.Percent, err = DecodeDecimal(d)
		case "amount":
			r.Amount, err = DecodeMoney(d)
		case "special_price":
			r.SpecialPrice, err = DecodeMoney(d)
		case "max_quantity":
			r.MaxQuantity, err = d.Int()
		case "gift_product_id":
			r.GiftProductID, err = d.Str()
		case "gift_quantity":
			r.GiftQuantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return r, err
}

// Promotions writes a full promotion catalog.
func Promotions(e *jx.Encoder, catalog []promotion.Promotion) {
	e.ArrStart()
	for _, p := range catalog {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(p.ID)
		e.FieldStart("name")
		e.Str(p.Name)
		e.FieldStart("kind")
		e.Str(string(p.Kind))
		e.FieldStart("rules")
		Rules(e, p.Rules)
		e.FieldStart("exclusive")
		e.Bool(p.Exclusive)
		e.FieldStart("priority")
		e.Int(p.Priority)
		e.FieldStart("stackable_with_coupons")
		e.Bool(p.StackableWithCoupons)
		e.FieldStart("valid_from")
		OptTime(e, p.ValidFrom)
		e.FieldStart("valid_until")
		OptTime(e, p.ValidUntil)
		e.ObjEnd()
	}
	e.ArrEnd()
}

// DecodePromotions reads a promotion catalog.
func DecodePromotions(d *jx.Decoder) ([]promotion.Promotion, error) {
	catalog := []promotion.Promotion{}
	err := d.Arr(func(d *jx.Decoder) error {
		var p promotion.Promotion
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "kind":
				var s string
				s, err = d.Str()
				p.Kind = promotion.Kind(s)
			case "rules":
				p.Rules, err = DecodeRules(d)
			case "exclusive":
				p.Exclusive, err = d.Bool()
			case "priority":
				p.Priority, err = d.Int()
			case "stackable_with_coupons":
				p.StackableWithCoupons, err = d.Bool()
			case "valid_from":
				p.ValidFrom, err = DecodeOptTime(d)
			case "valid_until":
				p.ValidUntil, err = DecodeOptTime(d)
			default:
				err = d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		catalog = append(catalog, p)
		return nil
	})
	return catalog, err
}

// Applications writes applied promotions.
func Applications(e *jx.Encoder, apps []promotion.Application) {
	e.ArrStart()
	for _, a := range apps {
		e.ObjStart()
		e.FieldStart("promotion_id")
		e.Str(a.PromotionID)
		e.FieldStart("name")
		e.Str(a.Name)
		e.FieldStart("kind")
		e.Str(string(a.Kind))
		e.FieldStart("discount_amount")
		Money(e, a.DiscountAmount)
		e.FieldStart("exclusive")
		e.Bool(a.Exclusive)
		e.FieldStart("priority")
		e.Int(a.Priority)
		if a.GiftProductID != "" {
			e.FieldStart("gift_product_id")
			e.Str(a.GiftProductID)
			e.FieldStart("gift_quantity")
			e.Int(a.GiftQuantity)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

// DecodeApplications reads applied promotions.
func DecodeApplications(d *jx.Decoder) ([]promotion.Application, error) {
	var apps []promotion.Application
	err := d.Arr(func(d *jx.Decoder) error {
		var a promotion.Application
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "promotion_id":
				a.PromotionID, err = d.Str()
			case "name":
				a.Name, err = d.Str()
			case "kind":
				var s string
				s, err = d.Str()
				a.Kind = promotion.Kind(s)
			case "discount_amount":
				a.DiscountAmount, err = DecodeMoney(d)
			case "exclusive":
				a.Exclusive, err = d.Bool()
			case "priority":
				a.Priority, err = d.Int()
			case "gift_product_id":
				a.GiftProductID, err = d.Str()
			case "gift_quantity":
				a.GiftQuantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		apps = append(apps, a)
		return nil
	})
	return apps, err
}
