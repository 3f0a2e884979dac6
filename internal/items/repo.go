package items

import (
	"context"
	"fmt"

	"github.com/example/resale-repricer/internal/db"
	"github.com/example/resale-repricer/internal/domain/bid"
)

// Repo keeps items and their attempt audit in Postgres.
type Repo struct{ db db.Querier }

func NewRepo(d db.Querier) *Repo { return &Repo{db: d} }

// Items returns every item not yet succeeded or failed, oldest first.
// Interrupted items come back as pending with their spent attempts.
func (r *Repo) Items(ctx context.Context) ([]*bid.Item, error) {
	rows, err := r.db.Query(ctx, `
SELECT id,brand,sku,size,floor_price,url,status,attempts,reason,price,label,updated_at
FROM bid_items
WHERE status NOT IN ('succeeded','failed')
ORDER BY created_at, id`)
	if err != nil {
		return nil, db.WrapNotFound(err)
	}
	defer rows.Close()

	var out []*bid.Item
	for rows.Next() {
		var it bid.Item
		var status string
		if err := rows.Scan(&it.ID, &it.Brand, &it.SKU, &it.Size, &it.FloorPrice, &it.URL,
			&status, &it.Attempts, &it.Reason, &it.Price, &it.Label, &it.Updated); err != nil {
			return nil, err
		}
		it.Status = bid.StatusPending
		out = append(out, &it)
	}
	return out, rows.Err()
}

// Get loads one item regardless of status.
func (r *Repo) Get(ctx context.Context, id string) (bid.Item, error) {
	var it bid.Item
	var status string
	err := r.db.QueryRow(ctx, `
SELECT id,brand,sku,size,floor_price,url,status,attempts,reason,price,label,updated_at
FROM bid_items
WHERE id=$1`, id).
		Scan(&it.ID, &it.Brand, &it.SKU, &it.Size, &it.FloorPrice, &it.URL,
			&status, &it.Attempts, &it.Reason, &it.Price, &it.Label, &it.Updated)
	if err != nil {
		return bid.Item{}, db.WrapNotFound(err)
	}
	it.Status = bid.Status(status)
	return it, nil
}

// Import upserts input rows as pending items. Rows already succeeded keep
// their outcome.
func (r *Repo) Import(ctx context.Context, items []*bid.Item) (int, error) {
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return 0, fmt.Errorf("import %s: %w", it.ID, err)
		}
	}
	n := 0
	err := r.tx(ctx, func(q db.Querier) error {
		for _, it := range items {
			err := q.Exec(ctx, `
INSERT INTO bid_items(id,brand,sku,size,floor_price,url,status)
VALUES ($1,$2,$3,$4,$5,$6,'pending')
ON CONFLICT (id) DO UPDATE
SET brand=EXCLUDED.brand, sku=EXCLUDED.sku, size=EXCLUDED.size,
    floor_price=EXCLUDED.floor_price, url=EXCLUDED.url, updated_at=now()
WHERE bid_items.status <> 'succeeded'`,
				it.ID, it.Brand, it.SKU, it.Size, it.FloorPrice, it.URL)
			if err != nil {
				return fmt.Errorf("import %s: %w", it.ID, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Requeue puts every finished item back to pending with a fresh attempt
// budget, so the next run reprices the whole batch again.
func (r *Repo) Requeue(ctx context.Context) error {
	return r.db.Exec(ctx, `
UPDATE bid_items
SET status='pending', attempts=0, reason='', updated_at=now()
WHERE status IN ('succeeded','failed')`)
}

func (r *Repo) tx(ctx context.Context, fn func(q db.Querier) error) error {
	if t, ok := r.db.(db.Transactor); ok {
		return t.WithTx(ctx, fn)
	}
	return fn(r.db)
}

func (r *Repo) RecordAttempt(ctx context.Context, rec bid.AttemptRecord) error {
	return r.db.Exec(ctx, `
INSERT INTO bid_attempts(item_id,attempt,worker,outcome,reason,error,attempted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ItemID, rec.Attempt, rec.Worker, rec.Outcome, rec.Reason, rec.Err, rec.At)
}

func (r *Repo) RecordResult(ctx context.Context, it *bid.Item) error {
	return r.db.Exec(ctx, `
UPDATE bid_items
SET status=$2, attempts=$3, reason=$4, price=$5, label=$6, updated_at=now()
WHERE id=$1`,
		it.ID, string(it.Status), it.Attempts, it.Reason, it.Price, it.Label)
}
