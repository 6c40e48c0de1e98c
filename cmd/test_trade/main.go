// Credential smoke test: derives CLOB API credentials and optionally
// places a tiny real order. Run it once after setting up a wallet.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/poedgar905/Paulie/api"
)

func main() {
	tokenFlag := flag.String("token", "", "token id to test against (optional)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: no .env file found")
	}

	if os.Getenv("POLYMARKET_PRIVATE_KEY") == "" {
		log.Fatal("POLYMARKET_PRIVATE_KEY not set")
	}

	auth, err := api.NewAuth()
	if err != nil {
		log.Fatalf("Failed to create auth: %v", err)
	}
	log.Printf("Auth created successfully")

	clobClient, err := api.NewClobClient("", auth)
	if err != nil {
		log.Fatalf("Failed to create CLOB client: %v", err)
	}

	// Proxy wallet setup if a funder address is configured
	if funder := os.Getenv("POLYMARKET_FUNDER"); funder != "" {
		clobClient.SetFunder(funder)
		clobClient.SetSignatureType(2)
		log.Printf("Configured proxy wallet: funder=%s", funder)
	} else {
		log.Printf("Using EOA wallet (no funder address set)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Printf("Deriving API credentials...")
	creds, err := clobClient.DeriveAPICreds(ctx)
	if err != nil {
		log.Fatalf("Failed to derive API creds: %v", err)
	}
	log.Printf("API credentials derived successfully!")
	log.Printf("  API Key: %s...%s", creds.APIKey[:8], creds.APIKey[len(creds.APIKey)-4:])

	candidates := []string{
		"87769991026114894163580777793845523168226980076553814689875238288185044414090",
		"18526421270059973400497927952164445523116068073465504942214949029756406262889",
	}
	if *tokenFlag != "" {
		candidates = []string{*tokenFlag}
	}

	var testTokenID string
	for _, tokenID := range candidates {
		book, err := clobClient.GetOrderBook(ctx, tokenID)
		if err != nil {
			log.Printf("Skip %s: %v", tokenID, err)
			continue
		}
		if len(book.Asks) == 0 || len(book.Bids) == 0 {
			log.Printf("Skip %s: no liquidity (asks=%d, bids=%d)", tokenID, len(book.Asks), len(book.Bids))
			continue
		}
		testTokenID = tokenID
		log.Printf("Found active market, token %s", tokenID)
		log.Printf("  Order book: %d bids, %d asks", len(book.Bids), len(book.Asks))
		log.Printf("  Best ask: %s @ %s", book.Asks[0].Size, book.Asks[0].Price)
		log.Printf("  Best bid: %s @ %s", book.Bids[0].Size, book.Bids[0].Price)
		break
	}
	if testTokenID == "" {
		log.Fatal("Could not find any test market with liquidity")
	}

	fmt.Print("\nDo you want to place a $1 test BUY order? (yes/no): ")
	var response string
	fmt.Scanln(&response)
	if response != "yes" {
		log.Println("Skipping test order. Credentials verified successfully!")
		return
	}

	log.Printf("Placing $1.05 test BUY order for token %s", testTokenID)
	resp, err := clobClient.PlaceMarketOrder(ctx, testTokenID, api.SideBuy, 1.05, false)
	if err != nil {
		log.Fatalf("Order failed: %v", err)
	}

	if !resp.Success {
		log.Printf("ORDER REJECTED: %s", resp.ErrorMsg)
		return
	}
	log.Printf("ORDER SUCCESS!")
	log.Printf("  Order ID: %s", resp.OrderID)
	log.Printf("  Status: %s", resp.Status)

	status, err := clobClient.GetOrderStatus(ctx, resp.OrderID)
	if err != nil {
		log.Printf("Status lookup failed: %v", err)
		return
	}
	log.Printf("  Matched: %s of %s", status.SizeMatched, status.OriginalSize)

	// FOK orders either fill or die; anything still resting gets cancelled
	// so the smoke test leaves no live orders behind.
	if status.Status == "LIVE" {
		if err := clobClient.CancelOrder(ctx, resp.OrderID); err != nil {
			log.Printf("Cancel failed: %v", err)
			return
		}
		log.Printf("  Resting order cancelled")
	}
}
