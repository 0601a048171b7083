package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/punchamoorthee/fastpayer/internal/config"
	"github.com/punchamoorthee/fastpayer/internal/domain"
	"github.com/punchamoorthee/fastpayer/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	opening := cfg.SeedBalance

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to open store: %v\n", err)
	}
	defer st.Close()

	log.Println("--- Seeding Database ---")

	err = st.OpenAccount(ctx, domain.Account{
		ID:        cfg.DebitAccount,
		Currency:  opening.Currency,
		Balance:   opening.Amount,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, domain.ErrAccountExists) {
		acc, err := st.GetAccount(ctx, cfg.DebitAccount)
		if err != nil {
			log.Fatalf("Lookup failed: %v", err)
		}
		log.Printf("Account %s already exists (%s %s). Skipping.", acc.ID, acc.Currency, acc.Balance.StringFixed(2))
		return
	}
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Opened account %s with %s.", cfg.DebitAccount, opening)
}
