// Ledger inspection tool: dumps the watchlist, positions, and portfolio
// roll-up from a local SQLite database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/poedgar905/Paulie/models"
	"github.com/poedgar905/Paulie/storage"
)

func main() {
	dbPath := flag.String("db", "data/copytrader.db", "path to the SQLite database")
	flag.Parse()

	store, err := storage.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *dbPath, err)
	}
	defer store.Close()

	ctx := context.Background()

	fmt.Println("--- Watchlist ---")
	traders, err := store.ListTraders(ctx)
	if err != nil {
		log.Fatalf("ListTraders: %v", err)
	}
	if len(traders) == 0 {
		fmt.Println("(empty)")
	}
	for _, t := range traders {
		cursor := t.LastSeenTradeID
		if cursor == "" {
			cursor = "(unseeded)"
		}
		fmt.Printf("%-20s %s\n  cursor: %s @ %d\n", t.DisplayName(), t.Address, cursor, t.LastSeenTS)
	}

	for _, status := range []models.PositionStatus{models.StatusOpen, models.StatusClosed, models.StatusFailed} {
		fmt.Printf("\n--- %s positions ---\n", status)
		positions, err := store.ListPositions(ctx, status, 0)
		if err != nil {
			log.Fatalf("ListPositions(%s): %v", status, err)
		}
		if len(positions) == 0 {
			fmt.Println("(none)")
			continue
		}
		for _, p := range positions {
			fmt.Printf("%s  %s / %s\n  %.2f shares @ %.4f ($%.2f)",
				p.ID, p.Title, p.Outcome, p.Size, p.EntryPrice, p.AmountUSD)
			if p.Status == models.StatusClosed {
				fmt.Printf("  closed @ %.4f pnl $%.4f (%.2f%%)", p.ClosePrice, p.RealizedPnlUSD, p.RealizedPnlPct)
			}
			fmt.Println()
		}
	}

	fmt.Println("\n--- Portfolio ---")
	summary, err := store.GetPortfolioSummary(ctx)
	if err != nil {
		log.Fatalf("GetPortfolioSummary: %v", err)
	}
	fmt.Printf("Open: %d  Closed: %d  Failed: %d\n", summary.OpenCount, summary.ClosedCount, summary.FailedCount)
	fmt.Printf("Invested (open): $%.2f\n", summary.TotalInvested)
	fmt.Printf("Realized P&L: $%.4f (%dW / %dL)\n", summary.RealizedUSD, summary.WinCount, summary.LossCount)
}
