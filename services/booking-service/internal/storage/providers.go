package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/db"
	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/services/booking-service/internal/availability"
)

type ProviderRepository struct {
	pool db.Querier
}

func NewProviderRepository(pool db.Querier) *ProviderRepository {
	return &ProviderRepository{pool: pool}
}

type Provider struct {
	ID       string
	Name     string
	Timezone string
}

func (r *ProviderRepository) Get(ctx context.Context, providerID string) (Provider, error) {
	var p Provider
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, timezone
		FROM providers
		WHERE id = $1
	`, providerID).Scan(&p.ID, &p.Name, &p.Timezone)
	if err != nil {
		if db.IsNotFound(err) {
			return Provider{}, domain.NotFound("provider not found")
		}
		return Provider{}, err
	}
	return p, nil
}

// OperatingHours returns the saved weekday table, or the default Mon-Fri
// schedule when the provider never saved one.
func (r *ProviderRepository) OperatingHours(ctx context.Context, providerID string) (domain.OperatingHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, closed, open_minute, close_minute
		FROM operating_hours
		WHERE provider_id = $1
		ORDER BY weekday
	`, providerID)
	if err != nil {
		return domain.OperatingHours{}, err
	}
	defer rows.Close()

	var days []domain.DayHours
	for rows.Next() {
		var (
			d       domain.DayHours
			weekday int16
		)
		if err := rows.Scan(&weekday, &d.Closed, &d.Open, &d.Close); err != nil {
			return domain.OperatingHours{}, err
		}
		d.Weekday = time.Weekday(weekday)
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return domain.OperatingHours{}, err
	}
	if len(days) == 0 {
		return domain.DefaultOperatingHours(), nil
	}
	return domain.FromDays(days)
}

// SaveOperatingHours replaces the whole weekday table in one transaction.
func (r *ProviderRepository) SaveOperatingHours(ctx context.Context, providerID string, hours domain.OperatingHours) error {
	if err := hours.Validate(); err != nil {
		return err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM operating_hours WHERE provider_id = $1`, providerID); err != nil {
		return err
	}
	for _, d := range hours {
		if _, err := tx.Exec(ctx, `
			INSERT INTO operating_hours (provider_id, weekday, closed, open_minute, close_minute)
			VALUES ($1, $2, $3, $4, $5)
		`, providerID, int16(d.Weekday), d.Closed, d.Open, d.Close); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *ProviderRepository) Services(ctx context.Context, providerID string) ([]domain.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, name, duration_minutes, price_min::float8, price_max::float8
		FROM provider_services
		WHERE provider_id = $1 AND active
		ORDER BY name
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := []domain.Service{}
	for rows.Next() {
		var s domain.Service
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.Name, &s.DurationMinutes, &s.PriceMin, &s.PriceMax); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

// Schedule assembles everything the availability resolver needs.
func (r *ProviderRepository) Schedule(ctx context.Context, providerID string) (availability.Schedule, error) {
	p, err := r.Get(ctx, providerID)
	if err != nil {
		return availability.Schedule{}, err
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return availability.Schedule{}, fmt.Errorf("provider %s timezone %q: %w", p.ID, p.Timezone, err)
	}
	hours, err := r.OperatingHours(ctx, providerID)
	if err != nil {
		return availability.Schedule{}, err
	}
	services, err := r.Services(ctx, providerID)
	if err != nil {
		return availability.Schedule{}, err
	}
	return availability.Schedule{
		ProviderID: p.ID,
		Location:   loc,
		Hours:      hours,
		Services:   services,
	}, nil
}

// Location is the provider's time zone; appointment times are rendered in it.
func (r *ProviderRepository) Location(ctx context.Context, providerID string) (*time.Location, error) {
	p, err := r.Get(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return time.LoadLocation(p.Timezone)
}
