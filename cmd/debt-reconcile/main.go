package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/tabshare/tabshare_backend/config"
)

// mirrorDivergence is one debt pair whose two sides no longer negate each
// other: the accepting side drifted, or the owner edited after acceptance.
type mirrorDivergence struct {
	DebtId          int       `json:"debt_id"`
	OwnerAccountId  int       `json:"owner_account_id"`
	MirrorAccountId int       `json:"mirror_account_id"`
	OwnerAmount     string    `json:"owner_amount"`
	MirrorAmount    string    `json:"mirror_amount"`
	OwnerUpdatedAt  time.Time `json:"owner_updated_at"`
	MirrorUpdatedAt time.Time `json:"mirror_updated_at"`
}

func main() {
	limit := flag.Int("limit", 100, "Max divergent pairs to report")
	lockTTL := flag.Duration("lock-ttl", 5*time.Minute, "Redis lock TTL; the scan aborts if another runner holds it")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := context.Background()

	// One runner at a time; overlapping scans would double-report.
	locker := config.GetRedisLock()
	lock, err := locker.Obtain(ctx, "Lock:debt-reconcile", *lockTTL, nil)
	if err == redislock.ErrNotObtained {
		fmt.Fprintln(os.Stderr, "another reconcile run is in progress")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not obtain lock: %v\n", err)
		os.Exit(1)
	}
	defer lock.Release(ctx)

	// Mirror pairs share an id; the later accept should have left the two
	// rows exact negations with matching currency and date.
	var divergences []mirrorDivergence
	err = db.WithContext(ctx).Raw(`
SELECT
    o.id AS debt_id,
    o.owner_account_id,
    m.owner_account_id AS mirror_account_id,
    CAST(o.amount AS CHAR) AS owner_amount,
    CAST(m.amount AS CHAR) AS mirror_amount,
    o.updated_at AS owner_updated_at,
    m.updated_at AS mirror_updated_at
FROM
    debts o
    JOIN debts m ON m.id = o.id
        AND m.owner_account_id > o.owner_account_id
WHERE
    o.amount + m.amount <> 0
    OR o.currency_code <> m.currency_code
    OR o.transaction_date <> m.transaction_date
ORDER BY
    o.id ASC
LIMIT ?`, *limit).Scan(&divergences).Error
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}

	if len(divergences) == 0 {
		fmt.Println("no divergent mirror pairs")
		return
	}

	for _, d := range divergences {
		stale := "owner"
		if d.MirrorUpdatedAt.Before(d.OwnerUpdatedAt) {
			stale = "mirror"
		}
		fmt.Printf("debt %d: owner %d has %s, mirror %d has %s (stale side: %s)\n",
			d.DebtId, d.OwnerAccountId, d.OwnerAmount, d.MirrorAccountId, d.MirrorAmount, stale)
	}
	fmt.Printf("%d divergent pair(s); re-accept from the stale side to converge\n", len(divergences))
}
