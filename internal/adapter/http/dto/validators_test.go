package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := CreateOrderRequest{
		MerchantOrderID: "  ORD-001  ",
		UserID:          " user-42 ",
		Amount:          " 99.90 ",
		Currency:        " CNY ",
		Method:          " ALIPAY ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "ORD-001", req.MerchantOrderID)
	assert.Equal(t, "user-42", req.UserID)
	assert.Equal(t, "99.90", req.Amount)
	assert.Equal(t, "CNY", req.Currency)
	assert.Equal(t, "ALIPAY", req.Method)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := CreateRefundRequest{
		Amount:   "10.00",
		Currency: "CNY",
		Reason:   "customer <script>alert('x')</script> request",
	}
	SanitizeStruct(&req)

	assert.Contains(t, req.Reason, "&lt;script&gt;")
	assert.NotContains(t, req.Reason, "<script>")
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom validator tests ---

func TestSafeID_Valid(t *testing.T) {
	cases := []string{
		"ORD-001",
		"ORD_002",
		"a.b.c",
		"simple123",
		"ABC-def_GHI.123",
	}
	for _, tc := range cases {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
}

func TestSafeID_Invalid(t *testing.T) {
	cases := []string{
		"ord 001",     // space
		"ord<001>",    // angle brackets
		"ord;DROP",    // semicolon
		"",            // empty
		"hello world", // space
		"ord\n001",    // newline
	}
	for _, tc := range cases {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}
