package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listActiveRoutesSQL = `SELECT
        id,
        origin,
        destination,
        name,
        is_active,
        scrape_frequency_hours,
        created_at
    FROM routes
    WHERE is_active
    ORDER BY id;`

	getRouteSQL = `SELECT
        id,
        origin,
        destination,
        name,
        is_active,
        scrape_frequency_hours,
        created_at
    FROM routes
    WHERE id = $1;`

	insertFlightPriceSQL = `INSERT INTO flight_prices (
        route_id,
        scraped_at,
        departure_date,
        return_date,
        price_nzd,
        airline,
        stops,
        cabin_class,
        passengers,
        raw_quote,
        z_score,
        confidence,
        is_suspicious
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    RETURNING id, created_at;`

	flightPriceColumns = `id,
        route_id,
        scraped_at,
        departure_date,
        return_date,
        price_nzd,
        airline,
        stops,
        cabin_class,
        passengers,
        raw_quote,
        z_score,
        confidence,
        is_suspicious,
        created_at`

	listRecentPricesSQL = `SELECT ` + flightPriceColumns + `
    FROM flight_prices
    WHERE route_id = $1
    ORDER BY scraped_at DESC
    LIMIT $2;`

	listRoutePricesAscSQL = `SELECT ` + flightPriceColumns + `
    FROM flight_prices
    WHERE route_id = $1
    ORDER BY scraped_at;`

	listPricesBetweenSQL = `SELECT ` + flightPriceColumns + `
    FROM flight_prices
    WHERE route_id = $1
      AND scraped_at >= $2
      AND scraped_at < $3
    ORDER BY scraped_at;`

	listRecentPriceRowsSQL = `SELECT
        p.id,
        p.route_id,
        p.scraped_at,
        p.departure_date,
        p.return_date,
        p.price_nzd,
        p.airline,
        p.stops,
        p.cabin_class,
        p.passengers,
        p.raw_quote,
        p.z_score,
        p.confidence,
        p.is_suspicious,
        p.created_at,
        r.origin,
        r.destination
    FROM flight_prices p
    JOIN routes r ON r.id = p.route_id
    ORDER BY p.scraped_at DESC
    LIMIT $1;`

	updateAnomalyFieldsSQL = `UPDATE flight_prices
    SET z_score = $2, confidence = $3, is_suspicious = $4
    WHERE id = $1;`

	countPricesSQL = `SELECT COUNT(*) FROM flight_prices;`

	insertAlertSQL = `INSERT INTO alerts (
        route_id,
        flight_price_id,
        alert_type,
        price_nzd,
        z_score,
        message,
        ai_analysis,
        channels,
        triggered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,COALESCE($9, now())
    )
    RETURNING id, triggered_at, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        route_id,
        flight_price_id,
        alert_type,
        price_nzd,
        z_score,
        message,
        ai_analysis,
        channels,
        triggered_at,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	latestAlertTimeSQL = `SELECT MAX(triggered_at) FROM alerts WHERE route_id = $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RouteStore defines read access to monitored routes.
type RouteStore interface {
	ListActiveRoutes(ctx context.Context) ([]Route, error)
	GetRoute(ctx context.Context, id int64) (Route, error)
}

// PriceStore defines operations for flight price persistence.
type PriceStore interface {
	InsertFlightPrice(ctx context.Context, price FlightPrice) (FlightPrice, error)
	ListRecentPrices(ctx context.Context, routeID int64, limit int) ([]FlightPrice, error)
	ListRoutePricesAsc(ctx context.Context, routeID int64) ([]FlightPrice, error)
	ListPricesBetween(ctx context.Context, routeID int64, from, to time.Time) ([]FlightPrice, error)
	ListRecentPriceRows(ctx context.Context, limit int) ([]PriceRow, error)
	UpdateAnomalyFields(ctx context.Context, priceID int64, zScore, confidence *decimal.Decimal, suspicious bool) error
	CountPrices(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert persistence and auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	LatestAlertTime(ctx context.Context, routeID int64) (*time.Time, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to routes, flight prices, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListActiveRoutes returns the routes eligible for sampling.
func (s *Store) ListActiveRoutes(ctx context.Context) ([]Route, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveRoutesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active routes: %w", queryErr)
	}
	defer rows.Close()

	routes := make([]Route, 0)
	for rows.Next() {
		var route Route
		if err := rows.Scan(
			&route.ID,
			&route.Origin,
			&route.Destination,
			&route.Name,
			&route.IsActive,
			&route.ScrapeFrequencyHours,
			&route.CreatedAt,
		); err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return routes, nil
}

// GetRoute fetches a single route by id.
func (s *Store) GetRoute(ctx context.Context, id int64) (Route, error) {
	pool, err := s.getPool()
	if err != nil {
		return Route{}, err
	}

	var route Route
	if scanErr := pool.QueryRow(ctx, getRouteSQL, id).Scan(
		&route.ID,
		&route.Origin,
		&route.Destination,
		&route.Name,
		&route.IsActive,
		&route.ScrapeFrequencyHours,
		&route.CreatedAt,
	); scanErr != nil {
		return Route{}, fmt.Errorf("get route %d: %w", id, scanErr)
	}
	return route, nil
}

// InsertFlightPrice persists an observation and returns it with the assigned id.
func (s *Store) InsertFlightPrice(ctx context.Context, price FlightPrice) (FlightPrice, error) {
	pool, err := s.getPool()
	if err != nil {
		return FlightPrice{}, err
	}

	var returnDate interface{}
	if price.ReturnDate != nil {
		returnDate = *price.ReturnDate
	}

	row := pool.QueryRow(ctx, insertFlightPriceSQL,
		price.RouteID,
		price.ScrapedAt,
		price.DepartureDate,
		returnDate,
		price.PriceNZD.String(),
		price.Airline,
		price.Stops,
		price.CabinClass,
		price.Passengers,
		[]byte(price.RawQuote),
		decimalOrNil(price.ZScore),
		decimalOrNil(price.Confidence),
		price.IsSuspicious,
	)
	if scanErr := row.Scan(&price.ID, &price.CreatedAt); scanErr != nil {
		return FlightPrice{}, fmt.Errorf("insert flight price: %w", scanErr)
	}
	return price, nil
}

// ListRecentPrices returns the newest observations for a route, newest first.
func (s *Store) ListRecentPrices(ctx context.Context, routeID int64, limit int) ([]FlightPrice, error) {
	return s.queryPrices(ctx, listRecentPricesSQL, routeID, limit)
}

// ListRoutePricesAsc returns all observations for a route in chronological order.
func (s *Store) ListRoutePricesAsc(ctx context.Context, routeID int64) ([]FlightPrice, error) {
	return s.queryPrices(ctx, listRoutePricesAscSQL, routeID)
}

// ListPricesBetween lists a route's observations inside a time window.
func (s *Store) ListPricesBetween(ctx context.Context, routeID int64, from, to time.Time) ([]FlightPrice, error) {
	return s.queryPrices(ctx, listPricesBetweenSQL, routeID, from, to)
}

func (s *Store) queryPrices(ctx context.Context, query string, args ...interface{}) ([]FlightPrice, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list flight prices: %w", queryErr)
	}
	defer rows.Close()

	prices := make([]FlightPrice, 0)
	for rows.Next() {
		price, scanErr := scanFlightPrice(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		prices = append(prices, price)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prices, nil
}

// ListRecentPriceRows lists the newest observations across all routes with route labels.
func (s *Store) ListRecentPriceRows(ctx context.Context, limit int) ([]PriceRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPriceRowsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent price rows: %w", queryErr)
	}
	defer rows.Close()

	result := make([]PriceRow, 0, limit)
	for rows.Next() {
		var row PriceRow
		var (
			returnDate sql.NullTime
			priceStr   string
			rawQuote   json.RawMessage
			zStr       sql.NullString
			confStr    sql.NullString
		)
		if err := rows.Scan(
			&row.ID,
			&row.RouteID,
			&row.ScrapedAt,
			&row.DepartureDate,
			&returnDate,
			&priceStr,
			&row.Airline,
			&row.Stops,
			&row.CabinClass,
			&row.Passengers,
			&rawQuote,
			&zStr,
			&confStr,
			&row.IsSuspicious,
			&row.CreatedAt,
			&row.Origin,
			&row.Destination,
		); err != nil {
			return nil, err
		}
		if err := fillPriceFields(&row.FlightPrice, returnDate, priceStr, rawQuote, zStr, confStr); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

// UpdateAnomalyFields writes scoring results back onto a stored observation.
func (s *Store) UpdateAnomalyFields(ctx context.Context, priceID int64, zScore, confidence *decimal.Decimal, suspicious bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateAnomalyFieldsSQL, priceID, decimalOrNil(zScore), decimalOrNil(confidence), suspicious)
	if execErr != nil {
		return fmt.Errorf("update anomaly fields: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountPrices counts stored observations.
func (s *Store) CountPrices(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPricesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count prices: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	var flightPriceID interface{}
	if alert.FlightPriceID != nil {
		flightPriceID = *alert.FlightPriceID
	}
	var aiAnalysis interface{}
	if alert.AIAnalysis != nil {
		aiAnalysis = *alert.AIAnalysis
	}
	var triggeredAt interface{}
	if !alert.TriggeredAt.IsZero() {
		triggeredAt = alert.TriggeredAt
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.RouteID,
		flightPriceID,
		alert.AlertType,
		alert.PriceNZD.String(),
		decimalOrNil(alert.ZScore),
		alert.Message,
		aiAnalysis,
		alert.Channels,
		triggeredAt,
	)
	if scanErr := row.Scan(&alert.ID, &alert.TriggeredAt, &alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var (
			flightPriceID sql.NullInt64
			priceStr      string
			zStr          sql.NullString
			aiAnalysis    sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.RouteID,
			&flightPriceID,
			&rec.AlertType,
			&priceStr,
			&zStr,
			&rec.Message,
			&aiAnalysis,
			&rec.Channels,
			&rec.TriggeredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse alert price: %w", convErr)
		}
		rec.PriceNZD = price

		if zStr.Valid {
			z, convErr := decimal.NewFromString(zStr.String)
			if convErr != nil {
				return nil, fmt.Errorf("parse alert z-score: %w", convErr)
			}
			rec.ZScore = &z
		}
		if flightPriceID.Valid {
			id := flightPriceID.Int64
			rec.FlightPriceID = &id
		}
		if aiAnalysis.Valid {
			analysis := aiAnalysis.String
			rec.AIAnalysis = &analysis
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// LatestAlertTime returns the newest alert timestamp for a route, nil when none exist.
func (s *Store) LatestAlertTime(ctx context.Context, routeID int64) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var latest sql.NullTime
	if scanErr := pool.QueryRow(ctx, latestAlertTimeSQL, routeID).Scan(&latest); scanErr != nil {
		return nil, fmt.Errorf("latest alert time: %w", scanErr)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanFlightPrice(rows pgx.Rows) (FlightPrice, error) {
	var (
		price      FlightPrice
		returnDate sql.NullTime
		priceStr   string
		rawQuote   json.RawMessage
		zStr       sql.NullString
		confStr    sql.NullString
	)

	if err := rows.Scan(
		&price.ID,
		&price.RouteID,
		&price.ScrapedAt,
		&price.DepartureDate,
		&returnDate,
		&priceStr,
		&price.Airline,
		&price.Stops,
		&price.CabinClass,
		&price.Passengers,
		&rawQuote,
		&zStr,
		&confStr,
		&price.IsSuspicious,
		&price.CreatedAt,
	); err != nil {
		return FlightPrice{}, err
	}

	if err := fillPriceFields(&price, returnDate, priceStr, rawQuote, zStr, confStr); err != nil {
		return FlightPrice{}, err
	}
	return price, nil
}

func fillPriceFields(price *FlightPrice, returnDate sql.NullTime, priceStr string, rawQuote json.RawMessage, zStr, confStr sql.NullString) error {
	parsed, err := decimal.NewFromString(priceStr)
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}
	price.PriceNZD = parsed
	price.RawQuote = rawQuote

	if returnDate.Valid {
		value := returnDate.Time
		price.ReturnDate = &value
	}
	if zStr.Valid {
		z, convErr := decimal.NewFromString(zStr.String)
		if convErr != nil {
			return fmt.Errorf("parse z-score: %w", convErr)
		}
		price.ZScore = &z
	}
	if confStr.Valid {
		conf, convErr := decimal.NewFromString(confStr.String)
		if convErr != nil {
			return fmt.Errorf("parse confidence: %w", convErr)
		}
		price.Confidence = &conf
	}
	return nil
}

func decimalOrNil(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
