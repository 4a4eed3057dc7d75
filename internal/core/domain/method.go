package domain

import (
	"fmt"
	"strings"
)

// PaymentMethod identifies a payment rail. Methods are immutable values
// compared by value; the set is closed and unknown codes are rejected at parse
// time. Crypto rails carry the network they settle on and the number of block
// confirmations required before a payment may be finalized. Traditional rails
// require zero confirmations: the gateway's own callback is authoritative.
type PaymentMethod struct {
	code                  string
	network               string
	requiredConfirmations int
}

// Traditional rails.
var (
	MethodAlipay       = PaymentMethod{code: "ALIPAY"}
	MethodWechat       = PaymentMethod{code: "WECHAT"}
	MethodUnionPay     = PaymentMethod{code: "UNIONPAY"}
	MethodCreditCard   = PaymentMethod{code: "CREDIT_CARD"}
	MethodBankTransfer = PaymentMethod{code: "BANK_TRANSFER"}
)

// Crypto rails.
var (
	MethodUSDTTRC20 = PaymentMethod{code: "USDT_TRC20", network: "TRON", requiredConfirmations: 1}
	MethodUSDTERC20 = PaymentMethod{code: "USDT_ERC20", network: "ETHEREUM", requiredConfirmations: 12}
	MethodUSDTBEP20 = PaymentMethod{code: "USDT_BEP20", network: "BSC", requiredConfirmations: 3}
	MethodBTC       = PaymentMethod{code: "BTC", network: "BITCOIN", requiredConfirmations: 6}
	MethodETH       = PaymentMethod{code: "ETH", network: "ETHEREUM", requiredConfirmations: 12}
)

var methodsByCode = map[string]PaymentMethod{
	MethodAlipay.code:       MethodAlipay,
	MethodWechat.code:       MethodWechat,
	MethodUnionPay.code:     MethodUnionPay,
	MethodCreditCard.code:   MethodCreditCard,
	MethodBankTransfer.code: MethodBankTransfer,
	MethodUSDTTRC20.code:    MethodUSDTTRC20,
	MethodUSDTERC20.code:    MethodUSDTERC20,
	MethodUSDTBEP20.code:    MethodUSDTBEP20,
	MethodBTC.code:          MethodBTC,
	MethodETH.code:          MethodETH,
}

// ParseMethod resolves a method code to its PaymentMethod value.
func ParseMethod(code string) (PaymentMethod, error) {
	m, ok := methodsByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return PaymentMethod{}, fmt.Errorf("unknown payment method: %q", code)
	}
	return m, nil
}

// AllMethods returns every known payment method.
func AllMethods() []PaymentMethod {
	out := make([]PaymentMethod, 0, len(methodsByCode))
	for _, m := range methodsByCode {
		out = append(out, m)
	}
	return out
}

// Code returns the method code, e.g. "ALIPAY" or "USDT_TRC20".
func (m PaymentMethod) Code() string { return m.code }

// Network returns the blockchain network tag, empty for traditional rails.
func (m PaymentMethod) Network() string { return m.network }

// RequiredConfirmations returns the confirmation threshold for finalizing
// success on this rail. Zero for traditional rails.
func (m PaymentMethod) RequiredConfirmations() int { return m.requiredConfirmations }

// IsCrypto reports whether this is a blockchain rail.
func (m PaymentMethod) IsCrypto() bool { return m.network != "" }

// IsZero reports whether m is the zero (unset) method.
func (m PaymentMethod) IsZero() bool { return m.code == "" }

func (m PaymentMethod) String() string { return m.code }
