// Package ledger posts matched transactions as balanced double-entry
// groups, grounded on original_source/backend/services/ledger/ledger_service.py.
package ledger

import "strings"

// Chart of accounts codes (ledger_service.py's ChartOfAccounts).
const (
	AcctCashStripeUSD    = "1001"
	AcctCashAdyenEUR     = "1002"
	AcctCashPaypalGBP    = "1003"
	AcctAccountsReceivable = "1100"
	AcctReservesRolling  = "1200"

	AcctPlayerBalances = "2000"

	AcctGamingRevenue = "4000"
	AcctFXGains       = "4100"

	AcctPSPFees          = "5000"
	AcctFXLosses         = "5100"
	AcctChargebackLosses = "5200"
)

// CashAccount resolves the cash account code for a PSP connection id.
// connectionID is expected to start with the PSP name, e.g.
// "stripe_conn_7f3a" (ledger_service.py's get_cash_account splits on '_'
// and lowercases). Unrecognized PSPs fall back to the Stripe USD account,
// matching the original's default.
func CashAccount(connectionID string) string {
	pspName := connectionID
	if i := strings.IndexByte(connectionID, '_'); i >= 0 {
		pspName = connectionID[:i]
	}
	switch strings.ToLower(pspName) {
	case "adyen":
		return AcctCashAdyenEUR
	case "paypal":
		return AcctCashPaypalGBP
	case "stripe":
		return AcctCashStripeUSD
	default:
		return AcctCashStripeUSD
	}
}
