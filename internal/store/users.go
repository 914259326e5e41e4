package store

import (
	"context"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

const userColumns = `id, email, name, created_at, updated_at, version`

func scanUser(row scanner, user *models.User) error {
	return row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
}

func CreateUser(ctx context.Context, q database.DBTX, email, name string) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (email, name, created_at, updated_at, version)
		VALUES ($1, $2, NOW(), NOW(), 1)
		RETURNING ` + userColumns

	if err := scanUser(q.QueryRowContext(ctx, query, email, name), user); err != nil {
		return nil, database.Wrap("users", "insert", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, q database.DBTX, id int64) (*models.User, error) {
	user := &models.User{}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	if err := scanUser(q.QueryRowContext(ctx, query, id), user); err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrUserNotFound
		}
		return nil, database.Wrap("users", "select", err)
	}

	return user, nil
}
