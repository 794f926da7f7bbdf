package market

import "testing"

func TestParseTickerMessageRaw(t *testing.T) {
	msg := []byte(`{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","c":"30000.5","h":"31000","l":"29500","P":"-1.25","q":"2500000"}`)

	got, err := parseTickerMessage(msg)
	if err != nil {
		t.Fatalf("parseTickerMessage: %v", err)
	}
	if got.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %s, want BTCUSDT", got.Symbol)
	}
	if got.Price != 30000.5 {
		t.Errorf("price = %v, want 30000.5", got.Price)
	}
	if got.ChangePercent != -1.25 {
		t.Errorf("change = %v, want -1.25", got.ChangePercent)
	}
	if got.QuoteVolume != 2500000 {
		t.Errorf("quote volume = %v, want 2500000", got.QuoteVolume)
	}
}

func TestParseTickerMessageCombined(t *testing.T) {
	msg := []byte(`{"stream":"ethusdt@ticker","data":{"E":1700000000001,"s":"ETHUSDT","c":"2000","h":"2100","l":"1900","P":"0.5","q":"900000"}}`)

	got, err := parseTickerMessage(msg)
	if err != nil {
		t.Fatalf("parseTickerMessage: %v", err)
	}
	if got.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %s, want ETHUSDT", got.Symbol)
	}
	if got.Low != 1900 {
		t.Errorf("low = %v, want 1900", got.Low)
	}
}

func TestParseTickerMessageInvalid(t *testing.T) {
	if _, err := parseTickerMessage([]byte(`{"foo":"bar"}`)); err == nil {
		t.Fatal("expected error for message without symbol")
	}
}

func TestSymbolsParam(t *testing.T) {
	got := symbolsParam([]string{"btcusdt", "ETHUSDT"})
	want := `["BTCUSDT","ETHUSDT"]`
	if got != want {
		t.Fatalf("symbolsParam = %s, want %s", got, want)
	}
}
