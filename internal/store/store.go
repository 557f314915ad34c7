// Package store implements domain.Store on SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shopbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writes itself.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS businesses (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		name          TEXT NOT NULL,
		about         TEXT,
		currency      TEXT DEFAULT 'USD',
		payment_link  TEXT
	);

	CREATE TABLE IF NOT EXISTS pages (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_id   TEXT NOT NULL UNIQUE,
		kind          TEXT NOT NULL DEFAULT 'messenger',
		access_token  TEXT,
		business_id   INTEGER NOT NULL REFERENCES businesses(id)
	);

	CREATE TABLE IF NOT EXISTS customers (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id     INTEGER NOT NULL REFERENCES pages(id),
		sender_id   TEXT NOT NULL,
		first_name  TEXT,
		last_name   TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(page_id, sender_id)
	);

	CREATE TABLE IF NOT EXISTS inbound_messages (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id              INTEGER NOT NULL,
		customer_id          INTEGER NOT NULL REFERENCES customers(id),
		provider_message_id  TEXT NOT NULL,
		text                 TEXT,
		received_at          DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(customer_id, provider_message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_inbound_customer ON inbound_messages(customer_id, received_at);

	CREATE TABLE IF NOT EXISTS outbound_messages (
		id                   TEXT PRIMARY KEY,
		page_id              INTEGER NOT NULL,
		customer_id          INTEGER NOT NULL REFERENCES customers(id),
		kind                 TEXT NOT NULL,
		payload              TEXT,
		provider_message_id  TEXT,
		sent_at              DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_outbound_customer ON outbound_messages(customer_id, sent_at);

	CREATE TABLE IF NOT EXISTS products (
		id           TEXT PRIMARY KEY,
		business_id  INTEGER NOT NULL REFERENCES businesses(id),
		name         TEXT NOT NULL,
		description  TEXT,
		price_cents  INTEGER DEFAULT 0,
		stock        INTEGER DEFAULT 0,
		sizes        TEXT,
		image_url    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_products_business ON products(business_id);

	CREATE TABLE IF NOT EXISTS orders (
		id           TEXT PRIMARY KEY,
		customer_id  INTEGER NOT NULL REFERENCES customers(id),
		business_id  INTEGER NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		total_cents  INTEGER DEFAULT 0,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id);

	CREATE TABLE IF NOT EXISTS order_items (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id     TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id   TEXT NOT NULL,
		name         TEXT NOT NULL,
		quantity     INTEGER NOT NULL,
		size         TEXT,
		price_cents  INTEGER DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- pages and businesses ---

func (s *SQLiteStore) PageByProviderID(ctx context.Context, providerID string) (*domain.Page, error) {
	var p domain.Page
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider_id, kind, COALESCE(access_token,''), business_id FROM pages WHERE provider_id = ?`,
		providerID,
	).Scan(&p.ID, &p.ProviderID, &p.Kind, &p.AccessToken, &p.BusinessID)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) BusinessByID(ctx context.Context, id int64) (*domain.Business, error) {
	var b domain.Business
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(about,''), COALESCE(currency,'USD'), COALESCE(payment_link,'')
		 FROM businesses WHERE id = ?`, id,
	).Scan(&b.ID, &b.Name, &b.About, &b.Currency, &b.PaymentLink)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBusiness and CreatePage exist for the ops surface and seeding.

func (s *SQLiteStore) CreateBusiness(ctx context.Context, b *domain.Business) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO businesses (name, about, currency, payment_link) VALUES (?, ?, ?, ?)`,
		b.Name, b.About, b.Currency, b.PaymentLink,
	)
	if err != nil {
		return err
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) CreatePage(ctx context.Context, p *domain.Page) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pages (provider_id, kind, access_token, business_id) VALUES (?, ?, ?, ?)`,
		p.ProviderID, p.Kind, p.AccessToken, p.BusinessID,
	)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

// --- customers ---

func (s *SQLiteStore) CustomerBySender(ctx context.Context, pageID int64, senderID string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, page_id, sender_id, COALESCE(first_name,''), COALESCE(last_name,''), created_at
		 FROM customers WHERE page_id = ? AND sender_id = ?`, pageID, senderID,
	).Scan(&c.ID, &c.PageID, &c.SenderID, &c.FirstName, &c.LastName, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) CustomerByID(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, page_id, sender_id, COALESCE(first_name,''), COALESCE(last_name,''), created_at
		 FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.PageID, &c.SenderID, &c.FirstName, &c.LastName, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (page_id, sender_id, first_name, last_name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.PageID, c.SenderID, c.FirstName, c.LastName, c.CreatedAt,
	)
	if err != nil {
		// A lost registration race trips the (page_id, sender_id) unique
		// index; report it as a duplicate so callers can re-read.
		if _, lookupErr := s.CustomerBySender(ctx, c.PageID, c.SenderID); lookupErr == nil {
			return domain.ErrDuplicate
		}
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// --- messages ---

func (s *SQLiteStore) HasInbound(ctx context.Context, customerID int64, providerMessageID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM inbound_messages WHERE customer_id = ? AND provider_message_id = ?`,
		customerID, providerMessageID,
	).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStore) SaveInbound(ctx context.Context, m *domain.InboundMessage) error {
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_messages (page_id, customer_id, provider_message_id, text, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.PageID, m.CustomerID, m.ProviderMessageID, m.Text, m.ReceivedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDuplicate
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) SaveOutbound(ctx context.Context, m *domain.OutboundMessage) error {
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbound_messages (id, page_id, customer_id, kind, payload, provider_message_id, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.PageID, m.CustomerID, string(m.Kind), m.Payload, m.ProviderMessageID, m.SentAt,
	)
	return err
}

// History merges inbound and outbound turns in insertion order. limit keeps
// the most recent turns; 0 means everything.
func (s *SQLiteStore) History(ctx context.Context, customerID int64, limit int) ([]domain.ConversationTurn, error) {
	q := `
	SELECT dir, text, at FROM (
		SELECT 'in' AS dir, COALESCE(text,'') AS text, received_at AS at FROM inbound_messages WHERE customer_id = ?
		UNION ALL
		SELECT 'out' AS dir, COALESCE(payload,'') AS text, sent_at AS at FROM outbound_messages WHERE customer_id = ?
	) ORDER BY at DESC, dir DESC`
	args := []any{customerID, customerID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.ConversationTurn
	for rows.Next() {
		var t domain.ConversationTurn
		var dir string
		if err := rows.Scan(&dir, &t.Text, &t.At); err != nil {
			return nil, err
		}
		t.Direction = domain.Direction(dir)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first query for the LIMIT; callers want oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// --- catalog ---

func (s *SQLiteStore) ProductsByBusiness(ctx context.Context, businessID int64) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, business_id, name, COALESCE(description,''), price_cents, stock, COALESCE(sizes,''), COALESCE(image_url,'')
		 FROM products WHERE business_id = ? ORDER BY name`, businessID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		var sizes string
		if err := rows.Scan(&p.ID, &p.BusinessID, &p.Name, &p.Description, &p.PriceCents, &p.Stock, &sizes, &p.ImageURL); err != nil {
			return nil, err
		}
		if sizes != "" {
			p.Sizes = strings.Split(sizes, ",")
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, p *domain.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, business_id, name, description, price_cents, stock, sizes, image_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.BusinessID, p.Name, p.Description, p.PriceCents, p.Stock, strings.Join(p.Sizes, ","), p.ImageURL,
	)
	return err
}

// --- orders ---

func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, business_id, status, total_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.CustomerID, o.BusinessID, o.Status, o.TotalCents, o.CreatedAt,
	); err != nil {
		return err
	}
	for _, line := range o.Lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, name, quantity, size, price_cents)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			o.ID, line.ProductID, line.Name, line.Quantity, line.Size, line.PriceCents,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) OrdersByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, business_id, status, total_cents, created_at
		 FROM orders WHERE customer_id = ? ORDER BY created_at`, customerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.BusinessID, &o.Status, &o.TotalCents, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		lines, err := s.orderLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func (s *SQLiteStore) OrderByID(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	err := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, business_id, status, total_cents, created_at
		 FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.CustomerID, &o.BusinessID, &o.Status, &o.TotalCents, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	lines, err := s.orderLines(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return &o, nil
}

func (s *SQLiteStore) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, name, quantity, COALESCE(size,''), price_cents
		 FROM order_items WHERE order_id = ? ORDER BY id`, orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Quantity, &l.Size, &l.PriceCents); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *SQLiteStore) PendingOrderTotal(ctx context.Context, customerID int64) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(total_cents) FROM orders WHERE customer_id = ? AND status = ?`,
		customerID, domain.OrderStatusPending,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
