package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/carebook/libs/db"
	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/carebook/services/booking-service/internal/outbox"
)

type AppointmentRepository struct {
	pool   db.Querier
	outbox *outbox.Repository
	now    func() time.Time
}

func NewAppointmentRepository(pool db.Querier, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo, now: time.Now}
}

const appointmentColumns = `
	id::text, appointment_number, patient_id, patient_name, provider_id, services::text,
	to_char(appointment_date, 'YYYY-MM-DD'), start_time, end_time, status, notes, total_price::float8,
	cancellation_reason, cancelled_by, cancelled_by_role, cancelled_at, created_at, updated_at`

// Create stores a new pending appointment together with its booked event.
// An overlapping blocking appointment is reported as slot_unavailable.
func (r *AppointmentRepository) Create(ctx context.Context, appt *domain.Appointment) error {
	now := r.now().UTC()
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	appt.Number = domain.AppointmentNumber(now, appt.ID)
	appt.Status = domain.StatusPending
	services, err := json.Marshal(appt.Services)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, appointment_number, patient_id, patient_name, provider_id, services, appointment_date,
			 start_time, end_time, status, notes, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING created_at, updated_at
	`, appt.ID, appt.Number, appt.PatientID, appt.PatientName, appt.ProviderID, string(services), appt.Date,
		appt.StartTime, appt.EndTime, string(appt.Status), appt.Notes, appt.TotalPrice, now).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if db.IsExclusionViolation(err) {
			return domain.SlotUnavailable("the selected time is no longer available")
		}
		if db.IsUniqueViolation(err) {
			return domain.Conflict("duplicate_appointment", "appointment already exists")
		}
		return err
	}

	evt, err := outbox.AppointmentEvent(*appt, domain.EventBooked, now)
	if err != nil {
		return err
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// StatusChange describes one lifecycle transition. Authorize runs against the
// locked row before the transition is checked.
type StatusChange struct {
	To        domain.Status
	Reason    string
	ActorID   string
	ActorRole string
	Authorize func(domain.Appointment) error
}

// Transition moves an appointment to change.To under a row lock and records
// the matching outbox event. Illegal moves leave the row untouched.
func (r *AppointmentRepository) Transition(ctx context.Context, appointmentID string, change StatusChange) (domain.Appointment, error) {
	if _, err := uuid.Parse(appointmentID); err != nil {
		return domain.Appointment{}, domain.NotFound("appointment not found")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, appointmentID))
	if err != nil {
		if db.IsNotFound(err) {
			return domain.Appointment{}, domain.NotFound("appointment not found")
		}
		return domain.Appointment{}, err
	}
	if change.Authorize != nil {
		if err := change.Authorize(appt); err != nil {
			return domain.Appointment{}, err
		}
	}
	if err := domain.Transition(appt.Status, change.To); err != nil {
		return domain.Appointment{}, err
	}

	now := r.now().UTC()
	appt.Status = change.To
	appt.UpdatedAt = now
	if change.To == domain.StatusCancelled || change.To == domain.StatusNoShow {
		appt.Cancellation = &domain.Cancellation{
			Reason:    change.Reason,
			ActorID:   change.ActorID,
			ActorRole: change.ActorRole,
			At:        now,
		}
		_, err = tx.Exec(ctx, `
			UPDATE appointments
			SET status = $2,
				cancellation_reason = $3,
				cancelled_by = $4,
				cancelled_by_role = $5,
				cancelled_at = $6,
				updated_at = $6
			WHERE id = $1
		`, appt.ID, string(appt.Status), change.Reason, change.ActorID, change.ActorRole, now)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE appointments
			SET status = $2, updated_at = $3
			WHERE id = $1
		`, appt.ID, string(appt.Status), now)
	}
	if err != nil {
		return domain.Appointment{}, err
	}

	evt, err := outbox.AppointmentEvent(appt, domain.EventKindFor(appt.Status), now)
	if err != nil {
		return domain.Appointment{}, err
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return domain.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, appointmentID string) (domain.Appointment, error) {
	if _, err := uuid.Parse(appointmentID); err != nil {
		return domain.Appointment{}, domain.NotFound("appointment not found")
	}
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, appointmentID))
	if db.IsNotFound(err) {
		return domain.Appointment{}, domain.NotFound("appointment not found")
	}
	return appt, err
}

// BusyIntervals implements availability.Bookings.
func (r *AppointmentRepository) BusyIntervals(ctx context.Context, providerID string, start, end time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE provider_id = $1
			AND status NOT IN ('cancelled', 'no_show')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	return busy, rows.Err()
}

type ListQuery struct {
	Status  domain.Status // empty means every status
	Search  string
	Page    int
	PerPage int
}

// List pages through a provider's appointments, newest first.
func (r *AppointmentRepository) List(ctx context.Context, providerID string, q ListQuery) (domain.Page[domain.Appointment], error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = 25
	}

	where := []string{"provider_id = $1"}
	args := []any{providerID}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		n := strconv.Itoa(len(args))
		where = append(where, "(appointment_number ILIKE $"+n+" OR patient_name ILIKE $"+n+" OR notes ILIKE $"+n+")")
	}
	clause := strings.Join(where, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE `+clause, args...).Scan(&total); err != nil {
		return domain.Page[domain.Appointment]{}, err
	}

	args = append(args, q.PerPage, (q.Page-1)*q.PerPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s
		FROM appointments
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return domain.Page[domain.Appointment]{}, err
	}
	appts, err := collectAppointments(rows)
	if err != nil {
		return domain.Page[domain.Appointment]{}, err
	}
	return domain.Page[domain.Appointment]{
		Data: appts,
		Meta: domain.NewPageMeta(q.Page, q.PerPage, int(total)),
	}, nil
}

func (r *AppointmentRepository) Counts(ctx context.Context, providerID string) (domain.Counts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*)
		FROM appointments
		WHERE provider_id = $1
		GROUP BY status
	`, providerID)
	if err != nil {
		return domain.Counts{}, err
	}
	defer rows.Close()

	byStatus := map[domain.Status]int{}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return domain.Counts{}, err
		}
		byStatus[domain.Status(status)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return domain.Counts{}, err
	}
	return domain.NewCounts(byStatus), nil
}

// Range returns every appointment of a provider intersecting [start, end), by start time.
func (r *AppointmentRepository) Range(ctx context.Context, providerID string, start, end time.Time) ([]domain.Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, start, end)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]domain.Appointment, error) {
	defer rows.Close()
	appts := []domain.Appointment{}
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func scanAppointment(row pgx.Row) (domain.Appointment, error) {
	var (
		appt                       domain.Appointment
		services, status           string
		reason, actorID, actorRole *string
		cancelledAt                *time.Time
	)
	if err := row.Scan(
		&appt.ID,
		&appt.Number,
		&appt.PatientID,
		&appt.PatientName,
		&appt.ProviderID,
		&services,
		&appt.Date,
		&appt.StartTime,
		&appt.EndTime,
		&status,
		&appt.Notes,
		&appt.TotalPrice,
		&reason,
		&actorID,
		&actorRole,
		&cancelledAt,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	); err != nil {
		return domain.Appointment{}, err
	}
	appt.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(services), &appt.Services); err != nil {
		return domain.Appointment{}, fmt.Errorf("decode services of %s: %w", appt.ID, err)
	}
	if cancelledAt != nil {
		appt.Cancellation = &domain.Cancellation{At: *cancelledAt}
		if reason != nil {
			appt.Cancellation.Reason = *reason
		}
		if actorID != nil {
			appt.Cancellation.ActorID = *actorID
		}
		if actorRole != nil {
			appt.Cancellation.ActorRole = *actorRole
		}
	}
	return appt, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
