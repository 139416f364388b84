package amount

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Scale 金额保留的小数位数，与数据库 DECIMAL(20,2) 一致
const Scale = 2

// Max DECIMAL(20,2) 能存下的最大值
var Max = decimal.RequireFromString("999999999999999999.99")

// Valid 金额必须为正数，不超过 Max，且小数位不超过 Scale（避免入库时被截断破坏守恒）
func Valid(d decimal.Decimal) bool {
	return d.IsPositive() && InRange(d)
}

// ValidNonNegative 用于初始分配：允许为 0
func ValidNonNegative(d decimal.Decimal) bool {
	return !d.IsNegative() && InRange(d)
}

// InRange 不超过 Max 且小数位不超过 Scale，余额累加后也要满足
func InRange(d decimal.Decimal) bool {
	return d.LessThanOrEqual(Max) && d.Equal(d.Round(Scale))
}

// Signed 按流水方向返回带符号金额
func Signed(inflow bool, d decimal.Decimal) decimal.Decimal {
	if inflow {
		return d
	}
	return d.Neg()
}

// Format 使用 go-money 按币种格式化金额，例如 "$1,500.00"
func Format(d decimal.Decimal, currency string) string {
	code := strings.ToUpper(currency)
	cur := money.GetCurrency(code)
	if cur == nil {
		return d.StringFixed(Scale) + " " + code
	}
	minor := d.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}
