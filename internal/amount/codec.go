package amount

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/blues/escrow/internal/apperr"
	"github.com/shopspring/decimal"
)

const (
	DefaultDecimals  = 18 // 1 个显示单位 = 10^18 个基础单位
	DefaultPrecision = 6  // 支持输入/展示的小数位数
)

// ErrInvalidAmount 金额格式非法，可用于 errors.Is
var ErrInvalidAmount = &apperr.Error{Kind: apperr.KindValidation, Rule: "InvalidAmount"}

var decimalPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// MaxBaseUnits 账本可表示的最大金额 2^256-1
var MaxBaseUnits = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Codec 账本定点整数与十进制显示单位之间的转换
type Codec struct {
	decimals  int32
	precision int32
}

// New 创建编解码器，precision 不能超过 decimals
func New(decimals, precision int) (*Codec, error) {
	if decimals < 0 || precision < 0 {
		return nil, fmt.Errorf("decimals and precision must be non-negative")
	}
	if precision > decimals {
		return nil, fmt.Errorf("precision %d exceeds base-unit resolution %d", precision, decimals)
	}
	return &Codec{decimals: int32(decimals), precision: int32(precision)}, nil
}

// Default 以太坊 wei 精度、6 位小数
func Default() *Codec {
	return &Codec{decimals: DefaultDecimals, precision: DefaultPrecision}
}

// Decimals 基础单位小数位
func (c *Codec) Decimals() int {
	return int(c.decimals)
}

// Precision 支持的小数位
func (c *Codec) Precision() int {
	return int(c.precision)
}

// ToBaseUnits 将十进制字符串转换为基础单位整数
func (c *Codec) ToBaseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return nil, invalid("negative amount %q", s)
	}
	if !decimalPattern.MatchString(s) {
		return nil, invalid("non-numeric amount %q", s)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, invalid("non-numeric amount %q", s)
	}
	if !d.Shift(c.precision).IsInteger() {
		return nil, invalid("amount %q exceeds supported precision of %d fractional digits", s, c.precision)
	}

	v := d.Shift(c.decimals).BigInt()
	if v.Cmp(MaxBaseUnits) > 0 {
		return nil, invalid("amount %q exceeds the ledger maximum", s)
	}
	return v, nil
}

// ToDisplayUnits 精确渲染，去掉末尾的 0
func (c *Codec) ToDisplayUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -c.decimals).String()
}

// FormatFixed 固定小数位渲染，仅在此处舍入
func (c *Codec) FormatFixed(v *big.Int, digits int) string {
	if v == nil {
		v = new(big.Int)
	}
	return decimal.NewFromBigInt(v, -c.decimals).StringFixed(int32(digits))
}

// Format 以支持的精度渲染
func (c *Codec) Format(v *big.Int) string {
	return c.FormatFixed(v, int(c.precision))
}

func invalid(format string, args ...interface{}) error {
	return &apperr.Error{
		Kind:    apperr.KindValidation,
		Rule:    ErrInvalidAmount.Rule,
		Message: fmt.Sprintf(format, args...),
	}
}

var defaultCodec = Default()

// ToBaseUnits 使用默认编解码器
func ToBaseUnits(s string) (*big.Int, error) {
	return defaultCodec.ToBaseUnits(s)
}

// ToDisplayUnits 使用默认编解码器
func ToDisplayUnits(v *big.Int) string {
	return defaultCodec.ToDisplayUnits(v)
}
