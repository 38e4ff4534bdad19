package marketdata

import "strings"

var paprikaIDs = map[string]string{
	"BTC":  "btc-bitcoin",
	"ETH":  "eth-ethereum",
	"USDT": "usdt-tether",
	"BNB":  "bnb-binance-coin",
	"ADA":  "ada-cardano",
	"SOL":  "sol-solana",
	"DOT":  "dot-polkadot",
	"DOGE": "doge-dogecoin",
}

var geckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"BNB":  "binancecoin",
	"ADA":  "cardano",
	"SOL":  "solana",
	"DOT":  "polkadot",
	"DOGE": "dogecoin",
}

// coinID resolves a ticker to a provider coin id: endpoint overrides first,
// then the built-in table, then fallback applied to the lowercased ticker.
func coinID(overrides, builtin map[string]string, symbol string, fallback func(string) string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if id, ok := overrides[sym]; ok {
		return id
	}
	if id, ok := builtin[sym]; ok {
		return id
	}
	return fallback(strings.ToLower(sym))
}
