package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/carebook/libs/domain"
)

type recorder struct {
	calls [][]string
	err   error
}

func (r *recorder) Invalidate(_ context.Context, prefixes ...string) error {
	r.calls = append(r.calls, prefixes)
	return r.err
}

type fakeReader struct {
	msgs   chan kafka.Message
	closed bool
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-f.msgs:
		return m, nil
	}
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func eventMessage(t *testing.T, kind string, a domain.Appointment) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(domain.NewAppointmentEvent(a, time.Now()))
	require.NoError(t, err)
	return kafka.Message{Topic: domain.AppointmentTopic(kind), Key: []byte(a.ID), Value: raw}
}

func TestHandleInvalidatesProviderViews(t *testing.T) {
	rec := &recorder{}
	c := New(&fakeReader{}, rec, logger())
	msg := eventMessage(t, domain.EventCancelled, domain.Appointment{ID: "a1", ProviderID: "p1", Date: "2025-01-06", Status: domain.StatusCancelled})

	require.NoError(t, c.Handle(context.Background(), msg))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{
		"appointments:list:p1:",
		"appointments:counts:p1:",
		"appointments:calendar:p1:",
		"slots:p1:2025-01-06",
	}, rec.calls[0])
}

func TestHandleRejectsBadPayload(t *testing.T) {
	rec := &recorder{}
	c := New(&fakeReader{}, rec, logger())

	err := c.Handle(context.Background(), kafka.Message{Topic: "booking.appointment.booked.v1", Value: []byte("{")})
	assert.Error(t, err)
	err = c.Handle(context.Background(), eventMessage(t, domain.EventBooked, domain.Appointment{ID: "a1"}))
	assert.Error(t, err)
	assert.Empty(t, rec.calls)
}

func TestHandlePropagatesCacheError(t *testing.T) {
	rec := &recorder{err: errors.New("redis down")}
	c := New(&fakeReader{}, rec, logger())
	err := c.Handle(context.Background(), eventMessage(t, domain.EventBooked, domain.Appointment{ID: "a1", ProviderID: "p1"}))
	assert.Error(t, err)
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	rec := &recorder{}
	reader := &fakeReader{msgs: make(chan kafka.Message, 2)}
	reader.msgs <- eventMessage(t, domain.EventBooked, domain.Appointment{ID: "a1", ProviderID: "p1", Date: "2025-01-06"})
	reader.msgs <- kafka.Message{Topic: "booking.appointment.booked.v1", Value: []byte("junk")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(reader, rec, logger()).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(reader.msgs) == 0 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.True(t, reader.closed)
	assert.Len(t, rec.calls, 1, "the malformed event is skipped")
}
