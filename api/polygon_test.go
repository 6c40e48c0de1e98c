package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	orderFilledTopic = "0xd0a08e8c493f9c94f29311604c9de1b4e8c8d4c06bd0c789af57f2d65bfec0f6"
	traderAddr       = "0x1111111111111111111111111111111111111111"
	counterAddr      = "0x2222222222222222222222222222222222222222"
)

func paddedTopic(addr string) string {
	return "0x" + strings.Repeat("0", 24) + strings.TrimPrefix(addr, "0x")
}

func receiptServer(t *testing.T, logsJSON string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"logs":%s}}`, logsJSON)
	}))
}

func filledLog(maker, taker string) string {
	return fmt.Sprintf(`{"topics":["%s","0xorderhash","%s","%s"]}`,
		orderFilledTopic, paddedTopic(maker), paddedTopic(taker))
}

func TestDetectExecStyle(t *testing.T) {
	tests := []struct {
		name string
		logs string
		want ExecStyle
	}{
		{
			name: "trader as maker is limit",
			logs: "[" + filledLog(traderAddr, counterAddr) + "]",
			want: ExecStyleLimit,
		},
		{
			name: "trader as taker is market",
			logs: "[" + filledLog(counterAddr, traderAddr) + "]",
			want: ExecStyleMarket,
		},
		{
			name: "maker wins when trader fills both sides",
			logs: "[" + filledLog(traderAddr, counterAddr) + "," + filledLog(counterAddr, traderAddr) + "]",
			want: ExecStyleLimit,
		},
		{
			name: "trader absent from logs",
			logs: "[" + filledLog(counterAddr, counterAddr) + "]",
			want: ExecStyleUnknown,
		},
		{
			name: "short topics skipped",
			logs: `[{"topics":["0xabc"]}]`,
			want: ExecStyleUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := receiptServer(t, tt.logs)
			defer srv.Close()

			client := NewPolygonClient(srv.URL)
			got, err := client.DetectExecStyle(context.Background(), "0xtx", traderAddr)
			if err != nil {
				t.Fatalf("DetectExecStyle: %v", err)
			}
			if got != tt.want {
				t.Errorf("style = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetectExecStyleMissingReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":null}`)
	}))
	defer srv.Close()

	client := NewPolygonClient(srv.URL)
	got, err := client.DetectExecStyle(context.Background(), "0xtx", traderAddr)
	if err != nil {
		t.Fatalf("missing receipt should not error: %v", err)
	}
	if got != ExecStyleUnknown {
		t.Errorf("style = %s, want UNKNOWN", got)
	}
}

func TestDetectExecStyleServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewPolygonClient(srv.URL)
	_, err := client.DetectExecStyle(context.Background(), "0xtx", traderAddr)

	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Errorf("err = %v, want TransientError", err)
	}
}

func TestDetectExecStyleBadTraderAddress(t *testing.T) {
	client := NewPolygonClient("http://localhost:0")
	if _, err := client.DetectExecStyle(context.Background(), "0xtx", "0xshort"); err == nil {
		t.Fatal("expected bad address error")
	}
}
