package repository

import (
	"context"

	"github.com/rookgm/cryptomart/internal/models"
	"github.com/rookgm/cryptomart/internal/repository/postgres"
)

const (
	insertItemQuery = `
						INSERT INTO items (name, category, price, is_physical, payload)
						values ($1, $2, $3, $4, $5)
						RETURNING id, created_at
`
	reserveUnitsQuery = `
						UPDATE items
						SET is_reserved = TRUE, order_id = $1
						WHERE id IN (
						    SELECT id FROM items
						    WHERE name = $2 AND NOT is_reserved AND NOT is_sold
						    ORDER BY id
						    LIMIT $3
						    FOR UPDATE SKIP LOCKED
						)
						RETURNING id, name, category, price, is_physical, payload
`
	releaseUnitsQuery = `
						UPDATE items
						SET is_reserved = FALSE, order_id = NULL
						WHERE order_id = $1 AND NOT is_sold
`
	markUnitsSoldQuery = `
						UPDATE items
						SET is_sold = TRUE
						WHERE order_id = $1 AND is_reserved AND NOT is_sold
						RETURNING id
`
	selectOrderItemsQuery = `
						SELECT id, name, category, price, is_physical, is_reserved, is_sold, order_id, payload, created_at
						FROM items
						WHERE order_id = $1
						ORDER BY id
`
	countAvailableUnitsQuery = `
						SELECT count(*) FROM items
						WHERE name = $1 AND NOT is_reserved AND NOT is_sold
`
	insertDeliveryQuery = `
						INSERT INTO deliveries (order_id, item_id)
						values ($1, $2)
`
)

// ItemRepository implements ItemRepository interface
type ItemRepository struct {
	db *postgres.DB
}

// NewItemRepository creates new ItemRepository instance
func NewItemRepository(db *postgres.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// CreateItem inserts new sellable unit to database
func (ir *ItemRepository) CreateItem(ctx context.Context, item *models.Item) (*models.Item, error) {
	err := ir.db.QueryRow(ctx, insertItemQuery, item.Name, item.Category, item.Price, item.IsPhysical, item.Payload).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return nil, err
	}

	return item, nil
}

// ReserveUnits claims up to qty free units of a position for the order in
// one conditional update. Rows already locked by a competing claim are
// skipped, so two checkouts never reserve the same unit. The caller
// compares len(result) against qty and rolls back on a partial claim.
func (ir *ItemRepository) ReserveUnits(ctx context.Context, orderID int64, name string, qty int) ([]models.Item, error) {
	rows, err := ir.db.Query(ctx, reserveUnitsQuery, orderID, name, qty)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Item

	for rows.Next() {
		item := models.Item{IsReserved: true, OrderID: orderID}
		err = rows.Scan(&item.ID, &item.Name, &item.Category, &item.Price, &item.IsPhysical, &item.Payload)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// ReleaseUnits frees the order's reserved units that were not sold yet.
// Returns the number of freed units.
func (ir *ItemRepository) ReleaseUnits(ctx context.Context, orderID int64) (int64, error) {
	cmd, err := ir.db.Exec(ctx, releaseUnitsQuery, orderID)
	if err != nil {
		return 0, err
	}

	return cmd.RowsAffected(), nil
}

// MarkUnitsSold permanently marks the order's reserved units as sold
func (ir *ItemRepository) MarkUnitsSold(ctx context.Context, orderID int64) ([]int64, error) {
	rows, err := ir.db.Query(ctx, markUnitsSoldQuery, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

// GetOrderItems returns units currently bound to the order
func (ir *ItemRepository) GetOrderItems(ctx context.Context, orderID int64) ([]models.Item, error) {
	rows, err := ir.db.Query(ctx, selectOrderItemsQuery, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Item

	for rows.Next() {
		item := models.Item{}
		err = rows.Scan(&item.ID, &item.Name, &item.Category, &item.Price, &item.IsPhysical, &item.IsReserved, &item.IsSold, &item.OrderID, &item.Payload, &item.CreatedAt)
		if err != nil {
			continue
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// CountAvailableUnits returns the free stock of a position
func (ir *ItemRepository) CountAvailableUnits(ctx context.Context, name string) (int, error) {
	var count int
	if err := ir.db.QueryRow(ctx, countAvailableUnitsQuery, name).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// CreateDeliveries records delivery rows for the order's units
func (ir *ItemRepository) CreateDeliveries(ctx context.Context, orderID int64, itemIDs []int64) error {
	for _, itemID := range itemIDs {
		if _, err := ir.db.Exec(ctx, insertDeliveryQuery, orderID, itemID); err != nil {
			return err
		}
	}

	return nil
}
