package store

import (
	"context"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

const productColumns = `id, sku, name, description, price, stock_quantity, created_at, updated_at, version`

func scanProduct(row scanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

func CreateProduct(ctx context.Context, q database.DBTX, sku, name, description string, price decimal.Decimal, stock int) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (sku, name, description, price, stock_quantity, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	err := scanProduct(q.QueryRowContext(ctx, query, sku, name, description, price, stock), product)
	if err != nil {
		return nil, database.Wrap("products", "insert", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q database.DBTX, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	if err := scanProduct(q.QueryRowContext(ctx, query, id), product); err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrProductNotFound
		}
		return nil, database.Wrap("products", "select", err)
	}

	return product, nil
}

// FindProductsByIDs returns the products keyed by id. Missing ids are simply
// absent from the map.
func FindProductsByIDs(ctx context.Context, q database.DBTX, ids []int64) (map[int64]*models.Product, error) {
	products := make(map[int64]*models.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, database.Wrap("products", "select", err)
	}
	defer rows.Close()

	for rows.Next() {
		product := &models.Product{}
		if err := scanProduct(rows, product); err != nil {
			return nil, database.Wrap("products", "scan", err)
		}
		products[product.ID] = product
	}

	if err := rows.Err(); err != nil {
		return nil, database.Wrap("products", "select", err)
	}

	return products, nil
}

// AdjustInventory adds delta to the stock counter in one conditional
// statement. The row is only written when the result stays non-negative, so
// concurrent decrements can never both pass the floor.
func AdjustInventory(ctx context.Context, q database.DBTX, productID int64, delta int) (*models.Product, error) {
	product := &models.Product{}

	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $1,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $2
		  AND stock_quantity + $1 >= 0
		RETURNING ` + productColumns

	err := scanProduct(q.QueryRowContext(ctx, query, delta, productID), product)
	if err == nil {
		return product, nil
	}
	if !database.IsNoRows(err) {
		return nil, database.Wrap("products", "adjust_inventory", err)
	}

	var exists bool
	err = q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`,
		productID).Scan(&exists)
	if err != nil {
		return nil, database.Wrap("products", "adjust_inventory", err)
	}
	if !exists {
		return nil, database.ErrProductNotFound
	}
	return nil, database.ErrInsufficientStock
}

func ListProducts(ctx context.Context, q database.DBTX, page, pageSize int) (*OffsetPage, error) {
	pageSize = ClampPageSize(pageSize)
	if page < 1 {
		page = 1
	}

	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total); err != nil {
		return nil, database.Wrap("products", "count", err)
	}

	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := q.QueryContext(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, database.Wrap("products", "select", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, database.Wrap("products", "scan", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Wrap("products", "select", err)
	}

	return &OffsetPage{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}
