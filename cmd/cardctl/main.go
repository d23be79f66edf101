// Command cardctl redeems or inspects a scratch card from the shell.
//
//	cardctl -pin ABCD-1234 -student STU001
//	cardctl -pin ABCD-1234 -peek
//	cardctl -memory -pin ABCD-1234 -student STU001
//
// With -memory it runs against an in-process store seeded with the demo
// card ABCD-1234 instead of the configured database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scoredesk/scoredesk-api/internal/config"
	"github.com/scoredesk/scoredesk-api/internal/domain/scratchcard"
	"github.com/scoredesk/scoredesk-api/internal/pkg/database"
	"github.com/scoredesk/scoredesk-api/internal/pkg/logger"
)

const demoPin = "ABCD-1234"

func main() {
	os.Exit(run())
}

func run() int {
	pin := flag.String("pin", "", "card PIN")
	student := flag.String("student", "", "student the card is redeemed for")
	termID := flag.String("term", "", "term the redemption applies to")
	peek := flag.Bool("peek", false, "show the card state without redeeming")
	memory := flag.Bool("memory", false, "use an in-memory store seeded with a demo card")
	flag.Parse()

	if *pin == "" {
		flag.Usage()
		return 2
	}

	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: "warn", Environment: "development"}); err != nil {
		return fail(err)
	}

	policy := scratchcard.Policy{
		AllowUnscopedTerm:     cfg.CardAllowUnscopedTerm,
		BindStudentOnFirstUse: cfg.CardBindStudent,
	}

	var store scratchcard.Store
	if *memory {
		mem := scratchcard.NewMemoryStore()
		if _, err := scratchcard.NewService(mem, nil, nil, policy).Issue(context.Background(), scratchcard.NewCard{
			Pin:      demoPin,
			Amount:   decimal.NewFromInt(500),
			MaxUsage: 1,
		}); err != nil {
			return fail(err)
		}
		store = mem
	} else {
		db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 1})
		if err != nil {
			return fail(fmt.Errorf("connect to database: %w", err))
		}
		defer database.ClosePostgres(db)
		store = scratchcard.NewRepository(db)
	}

	svc := scratchcard.NewService(store, nil, nil, policy)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out interface{}
	code := 0
	if *peek {
		summary, err := svc.Peek(ctx, *pin)
		if err != nil {
			return fail(err)
		}
		out = summary
	} else {
		res, err := svc.Redeem(ctx, *pin, scratchcard.RedeemContext{
			StudentID: optional(*student),
			TermID:    optional(*termID),
		})
		if err != nil {
			return fail(err)
		}
		if !res.Success {
			code = 1
		}
		out = res
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fail(err)
	}
	return code
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "cardctl:", err)
	return 1
}
