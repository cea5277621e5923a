package orders

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/pkg/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresStore is the production Store. Every status write runs inside a
// transaction that takes the order row FOR UPDATE, so concurrent writers to
// the same order serialize at the database.
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

func NewPostgresStore(cfg PostgresConfig, logger *logrus.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &PostgresStore{db: db, logger: logger}, nil
}

// WaitReady pings the database until it answers or attempts run out.
func (s *PostgresStore) WaitReady(attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = s.db.Ping(); err == nil {
			s.logger.Info("Database connection established")
			return nil
		}
		s.logger.Info("Waiting for database...")
		time.Sleep(delay)
	}
	return fmt.Errorf("database not ready: %w", err)
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("could not load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateProvisionalOrder(ctx context.Context, cart *models.CartSnapshot, userID string, delivery models.DeliveryDetails) (*models.Order, error) {
	if err := cart.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	order := &models.Order{
		ID:             uuid.New().String(),
		UserID:         userID,
		RestaurantID:   cart.RestaurantID,
		RestaurantName: cart.RestaurantName,
		Delivery:       delivery,
		Items:          append([]models.CartItem(nil), cart.Items...),
		TotalAmount:    cart.Subtotal(),
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, user_id, restaurant_id, restaurant_name,
			delivery_name, delivery_email, delivery_address, delivery_city, delivery_country,
			total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.ExecContext(ctx, query, order.ID, order.UserID, order.RestaurantID, order.RestaurantName,
		delivery.Name, delivery.Email, delivery.Address, delivery.City, delivery.Country,
		order.TotalAmount, order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	itemQuery := `
		INSERT INTO order_items (order_id, item_id, name, unit_price, quantity, image_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, itemQuery, order.ID, item.ItemID, item.Name,
			item.UnitPrice, item.Quantity, item.ImageRef); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"user_id":      userID,
		"total_amount": order.TotalAmount,
	}).Info("Provisional order created")

	return order, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.scanOrder(ctx, s.db.QueryRowContext(ctx, `
		SELECT id, user_id, restaurant_id, restaurant_name,
			delivery_name, delivery_email, delivery_address, delivery_city, delivery_country,
			total_amount, status, created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, s.db, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *PostgresStore) ConfirmOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.mutate(ctx, orderID, func(order *models.Order) error {
		switch order.Status {
		case models.StatusPending:
			order.Status = models.StatusConfirmed
			order.UpdatedAt = time.Now()
		case models.StatusCancelled:
			return ErrIllegalTransition
		default:
			// Duplicate confirm; leave the order as-is.
		}
		return nil
	})
}

func (s *PostgresStore) TransitionOrder(ctx context.Context, orderID string, newStatus models.OrderStatus, actor models.Actor) (*models.Order, error) {
	return s.mutate(ctx, orderID, func(order *models.Order) error {
		if err := checkTransition(order, newStatus, actor); err != nil {
			return err
		}
		order.Status = newStatus
		order.UpdatedAt = time.Now()
		return nil
	})
}

func (s *PostgresStore) CancelOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.TransitionOrder(ctx, orderID, models.StatusCancelled, models.ActorCustomer)
}

// mutate locks the order row, applies fn to the in-memory copy, and writes
// back status and updated_at if fn changed them.
func (s *PostgresStore) mutate(ctx context.Context, orderID string, fn func(*models.Order) error) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := s.scanOrder(ctx, tx.QueryRowContext(ctx, `
		SELECT id, user_id, restaurant_id, restaurant_name,
			delivery_name, delivery_email, delivery_address, delivery_city, delivery_country,
			total_amount, status, created_at, updated_at
		FROM orders WHERE id = $1 FOR UPDATE
	`, orderID))
	if err != nil {
		return nil, err
	}

	before := order.Status
	if err := fn(order); err != nil {
		return nil, err
	}

	if order.Status != before {
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
			order.Status, order.UpdatedAt, order.ID); err != nil {
			return nil, err
		}
	}
	// Items are read before committing so a read failure rolls the write back
	// instead of making a landed commit look like an error.
	if err := s.loadItems(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *PostgresStore) scanOrder(ctx context.Context, row *sql.Row) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(&order.ID, &order.UserID, &order.RestaurantID, &order.RestaurantName,
		&order.Delivery.Name, &order.Delivery.Email, &order.Delivery.Address,
		&order.Delivery.City, &order.Delivery.Country,
		&order.TotalAmount, &order.Status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *PostgresStore) loadItems(ctx context.Context, q queryer, order *models.Order) error {
	rows, err := q.QueryContext(ctx, `
		SELECT item_id, name, unit_price, quantity, COALESCE(image_ref, '')
		FROM order_items WHERE order_id = $1 ORDER BY id
	`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	order.Items = order.Items[:0]
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ItemID, &item.Name, &item.UnitPrice, &item.Quantity, &item.ImageRef); err != nil {
			return err
		}
		item.RestaurantID = order.RestaurantID
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}
