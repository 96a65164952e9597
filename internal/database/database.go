package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"

	"github.com/dsr1111/auction-akatsuki/configs"
	"github.com/dsr1111/auction-akatsuki/internal/auction"
	"github.com/dsr1111/auction-akatsuki/pkg/errors"
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// Service represents a service that interacts with a database. It
// extends the auction store contract with operational concerns.
type Service interface {
	auction.Store

	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error
}

type service struct {
	db         *sql.DB
	itemsTable string
	bidsTable  string
}

var dbInstance *service

func New(cfg *configs.Config) Service {
	// Reuse Connection
	if dbInstance != nil {
		return dbInstance
	}
	dbConfig := cfg.Database
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Name,
		dbConfig.SSLMode,
	)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatal("Error opening database: ", err)
	}

	dbInstance = &service{
		db:         db,
		itemsTable: quoteIdent(dbConfig.ItemsTable),
		bidsTable:  quoteIdent(dbConfig.BidsTable),
	}
	return dbInstance
}

// quoteIdent quotes a configured table name as a Postgres identifier.
func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	out = append(out, '"')
	return string(out)
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	// Ping the database
	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	// Database is up, add more statistics
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

// Now returns the server clock every auction-state decision is based
// on, so clients with skewed local clocks classify items identically.
func (s *service) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error reading server clock")
	}
	return now, nil
}

const itemColumns = `"id", "name", "starting_price", "quantity", "current_bid", "last_bidder_nickname", "end_time", "created_at"`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (types.Item, error) {
	var item types.Item
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.StartingPrice,
		&item.Quantity,
		&item.CurrentBid,
		&item.LastBidderNickname,
		&item.EndTime,
		&item.CreatedAt,
	)
	return item, err
}

func (s *service) GetItemByID(ctx context.Context, itemID string) (types.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE "id" = $1`, itemColumns, s.itemsTable)
	item, err := scanItem(s.db.QueryRowContext(ctx, query, itemID))
	if err == sql.ErrNoRows {
		return types.Item{}, errors.New(errors.ErrUnknownItem, "item not found")
	}
	if err != nil {
		return types.Item{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error getting item by id")
	}
	return item, nil
}

func (s *service) ListItems(ctx context.Context) ([]types.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY "created_at" DESC`, itemColumns, s.itemsTable)
	return s.queryItems(ctx, query)
}

func (s *service) ListEndedItems(ctx context.Context, now time.Time) ([]types.Item, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE "end_time" IS NOT NULL AND "end_time" <= $1 ORDER BY "end_time" DESC`,
		itemColumns, s.itemsTable,
	)
	return s.queryItems(ctx, query, now)
}

func (s *service) queryItems(ctx context.Context, query string, args ...any) ([]types.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error listing items")
	}
	defer rows.Close()

	var items []types.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error scanning item")
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error iterating over items")
	}
	return items, nil
}

func (s *service) CreateItem(ctx context.Context, item types.Item) (types.Item, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s ("id", "name", "starting_price", "quantity", "current_bid", "last_bidder_nickname", "end_time", "created_at")
        VALUES (gen_random_uuid(), $1, $2, $3, $2, NULL, $4, now())
        RETURNING %s
    `, s.itemsTable, itemColumns)
	created, err := scanItem(s.db.QueryRowContext(ctx, query, item.Name, item.StartingPrice, item.Quantity, item.EndTime))
	if err != nil {
		return types.Item{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error creating item")
	}
	return created, nil
}

// DeleteItem removes an item and cascades its bids; an item is never
// left referenced by orphaned ledger entries.
func (s *service) DeleteItem(ctx context.Context, itemID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.WrapCode(errors.ErrStorageUnavailable, err, "error starting transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "item_id" = $1`, s.bidsTable), itemID); err != nil {
		return errors.WrapCode(errors.ErrStorageUnavailable, err, "error deleting item bids")
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "id" = $1`, s.itemsTable), itemID)
	if err != nil {
		return errors.WrapCode(errors.ErrStorageUnavailable, err, "error deleting item")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WrapCode(errors.ErrStorageUnavailable, err, "error deleting item")
	}
	if affected == 0 {
		return errors.New(errors.ErrUnknownItem, "item not found")
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapCode(errors.ErrStorageUnavailable, err, "error committing item delete")
	}
	return nil
}

const bidColumns = `"id", "item_id", "bid_amount", "bid_quantity", "bidder_nickname", "bidder_discord_id", "bidder_discord_name", "created_at"`

func scanBid(row rowScanner) (types.Bid, error) {
	var bid types.Bid
	err := row.Scan(
		&bid.ID,
		&bid.ItemID,
		&bid.BidAmount,
		&bid.BidQuantity,
		&bid.BidderNickname,
		&bid.BidderDiscordID,
		&bid.BidderDiscordName,
		&bid.CreatedAt,
	)
	return bid, err
}

func (s *service) ListBidsByItem(ctx context.Context, itemID string) ([]types.Bid, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE "item_id" = $1`, bidColumns, s.bidsTable)
	rows, err := s.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error listing bids")
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error scanning bid")
		}
		bids = append(bids, bid)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error iterating over bids")
	}
	return bids, nil
}

func (s *service) GetBidByID(ctx context.Context, bidID string) (types.Bid, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE "id" = $1`, bidColumns, s.bidsTable)
	bid, err := scanBid(s.db.QueryRowContext(ctx, query, bidID))
	if err == sql.ErrNoRows {
		return types.Bid{}, errors.New(errors.ErrBidNotFound, "bid not found")
	}
	if err != nil {
		return types.Bid{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error getting bid by id")
	}
	return bid, nil
}

// CreateBid appends one ledger entry and applies the running-max cache
// rule inside a single serializable transaction. The item row is
// locked FOR UPDATE so appends and deletes on the same item serialize,
// while other items proceed in parallel.
func (s *service) CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return types.Bid{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error starting transaction")
	}
	defer tx.Rollback()

	item, now, err := s.lockItem(ctx, tx, bid.ItemID)
	if err != nil {
		return types.Bid{}, err
	}
	if auction.Classify(item, now) == auction.Ended {
		return types.Bid{}, errors.New(errors.ErrAuctionEnded, "auction has ended")
	}

	insertQuery := fmt.Sprintf(`
        INSERT INTO %s ("id", "item_id", "bid_amount", "bid_quantity", "bidder_nickname", "bidder_discord_id", "bidder_discord_name", "created_at")
        VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, now())
        RETURNING %s
    `, s.bidsTable, bidColumns)
	created, err := scanBid(tx.QueryRowContext(ctx, insertQuery,
		bid.ItemID, bid.BidAmount, bid.BidQuantity, bid.BidderNickname, bid.BidderDiscordID, bid.BidderDiscordName))
	if err != nil {
		return types.Bid{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error creating bid")
	}

	if cache, changed := auction.CacheAfterAppend(item, created.BidAmount, created.BidderNickname); changed {
		if err := s.writeCache(ctx, tx, item.ID, cache); err != nil {
			return types.Bid{}, err
		}
		log.Debugf("Item %s updated with new bid: %v", item.ID, cache.CurrentBid)
	}

	if err := tx.Commit(); err != nil {
		return types.Bid{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error committing bid")
	}
	return created, nil
}

// DeleteBid removes one ledger entry and recomputes the cache from the
// remaining bids, in the same locked transaction.
func (s *service) DeleteBid(ctx context.Context, bidID string) (types.Item, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return types.Item{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error starting transaction")
	}
	defer tx.Rollback()

	var itemID string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT "item_id" FROM %s WHERE "id" = $1`, s.bidsTable), bidID).Scan(&itemID)
	if err == sql.ErrNoRows {
		return types.Item{}, errors.New(errors.ErrBidNotFound, "bid not found")
	}
	if err != nil {
		return types.Item{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error getting bid by id")
	}

	item, _, err := s.lockItem(ctx, tx, itemID)
	if err != nil {
		return types.Item{}, err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "id" = $1`, s.bidsTable), bidID); err != nil {
		return types.Item{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error deleting bid")
	}

	remaining, err := s.listBidsTx(ctx, tx, itemID)
	if err != nil {
		return types.Item{}, err
	}

	cache := auction.CacheFromLedger(item, remaining)
	if err := s.writeCache(ctx, tx, item.ID, cache); err != nil {
		return types.Item{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Item{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error committing bid delete")
	}

	item.CurrentBid = cache.CurrentBid
	item.LastBidderNickname = cache.LastBidderNickname
	return item, nil
}

// ReconcileItem overwrites the cache from the ledger. Running it on an
// already-consistent item writes the same values back, so it is
// idempotent.
func (s *service) ReconcileItem(ctx context.Context, itemID string) (types.Item, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return types.Item{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error starting transaction")
	}
	defer tx.Rollback()

	item, _, err := s.lockItem(ctx, tx, itemID)
	if err != nil {
		return types.Item{}, err
	}

	bids, err := s.listBidsTx(ctx, tx, itemID)
	if err != nil {
		return types.Item{}, err
	}

	cache := auction.CacheFromLedger(item, bids)
	if err := s.writeCache(ctx, tx, item.ID, cache); err != nil {
		return types.Item{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Item{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error committing reconcile")
	}

	item.CurrentBid = cache.CurrentBid
	item.LastBidderNickname = cache.LastBidderNickname
	return item, nil
}

// lockItem reads the item row FOR UPDATE together with the transaction
// clock, serializing all ledger+cache units for the same item.
func (s *service) lockItem(ctx context.Context, tx *sql.Tx, itemID string) (types.Item, time.Time, error) {
	query := fmt.Sprintf(`SELECT %s, now() FROM %s WHERE "id" = $1 FOR UPDATE`, itemColumns, s.itemsTable)
	var item types.Item
	var now time.Time
	err := tx.QueryRowContext(ctx, query, itemID).Scan(
		&item.ID,
		&item.Name,
		&item.StartingPrice,
		&item.Quantity,
		&item.CurrentBid,
		&item.LastBidderNickname,
		&item.EndTime,
		&item.CreatedAt,
		&now,
	)
	if err == sql.ErrNoRows {
		return types.Item{}, time.Time{}, errors.New(errors.ErrUnknownItem, "item not found")
	}
	if err != nil {
		return types.Item{}, time.Time{}, errors.WrapCode(errors.ErrStorageUnavailable, err, "error locking item")
	}
	return item, now, nil
}

func (s *service) listBidsTx(ctx context.Context, tx *sql.Tx, itemID string) ([]types.Bid, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE "item_id" = $1`, bidColumns, s.bidsTable)
	rows, err := tx.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error listing bids in tx")
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error scanning bid in tx")
		}
		bids = append(bids, bid)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error iterating over bids in tx")
	}
	return bids, nil
}

func (s *service) writeCache(ctx context.Context, tx *sql.Tx, itemID string, cache auction.CacheState) error {
	query := fmt.Sprintf(`UPDATE %s SET "current_bid" = $1, "last_bidder_nickname" = $2 WHERE "id" = $3`, s.itemsTable)
	if _, err := tx.ExecContext(ctx, query, cache.CurrentBid, cache.LastBidderNickname, itemID); err != nil {
		return errors.WrapCode(errors.ErrStorageUnavailable, err, "error updating item cache")
	}
	return nil
}
