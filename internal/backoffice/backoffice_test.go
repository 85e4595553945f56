package backoffice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/tools"
)

func TestDirectory_LookupByPhoneAndEmail(t *testing.T) {
	t.Parallel()
	d := NewDirectory()
	d.Add(tools.Customer{Name: "Ada Lovelace", Phone: "+15550100", Email: "Ada@Example.com"})

	c, err := d.LookupCustomer(context.Background(), "+15550100", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil || c.Name != "Ada Lovelace" {
		t.Fatalf("phone lookup = %+v", c)
	}
	if c.ID == "" {
		t.Error("Add should assign an ID")
	}

	// Email matching is case-insensitive.
	c, err = d.LookupCustomer(context.Background(), "", "ada@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil || c.Name != "Ada Lovelace" {
		t.Fatalf("email lookup = %+v", c)
	}
}

func TestDirectory_NoMatchIsNilNil(t *testing.T) {
	t.Parallel()
	d := NewDirectory()

	c, err := d.LookupCustomer(context.Background(), "+15550199", "nobody@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Errorf("expected nil customer for no match, got %+v", c)
	}
}

func TestScheduler_BooksFutureSlot(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	cc := tools.CallContext{CallID: "call-1", BusinessID: "acme", CustomerPhone: "+15550100"}
	id, err := s.ScheduleAppointment(context.Background(), cc, "2026-03-02", "14:30", "plumbing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty appointment ID")
	}

	got := s.Appointments()
	if len(got) != 1 {
		t.Fatalf("appointments: got %d, want 1", len(got))
	}
	a := got[0]
	if a.BusinessID != "acme" || a.Date != "2026-03-02" || a.StartTime != "14:30" || a.ServiceType != "plumbing" {
		t.Errorf("appointment = %+v", a)
	}
}

func TestScheduler_RejectsBadInput(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	cc := tools.CallContext{BusinessID: "acme"}

	tests := []struct {
		name                 string
		date, start, service string
	}{
		{"bad date", "03/02/2026", "14:30", "plumbing"},
		{"bad time", "2026-03-02", "2pm", "plumbing"},
		{"missing service", "2026-03-02", "14:30", ""},
		{"past slot", "2026-02-28", "14:30", "plumbing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ScheduleAppointment(context.Background(), cc, tt.date, tt.start, tt.service); err == nil {
				t.Errorf("expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestOrders_StatusAndNotFound(t *testing.T) {
	t.Parallel()
	o := NewOrders()
	o.Add(tools.OrderInfo{OrderID: "ORD-42", Status: "shipped", Tracking: "1Z999", ETA: "2026-03-05"})

	// Spoken order IDs come back in odd casing.
	info, err := o.OrderStatus(context.Background(), " ord-42 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Status != "shipped" || info.Tracking != "1Z999" {
		t.Errorf("order info = %+v", info)
	}

	_, err = o.OrderStatus(context.Background(), "ORD-99")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestTickets_CreateAndDefaults(t *testing.T) {
	t.Parallel()
	ts := NewTickets()
	cc := tools.CallContext{CallID: "call-7", BusinessID: "acme", CustomerPhone: "+15550100"}

	id, err := ts.CreateTicket(context.Background(), cc, "Router offline", "No link light after power cycle.", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty ticket ID")
	}

	all := ts.All()
	if len(all) != 1 {
		t.Fatalf("tickets: got %d, want 1", len(all))
	}
	if all[0].Priority != "normal" {
		t.Errorf("empty priority should default to normal, got %q", all[0].Priority)
	}
	if all[0].CallID != "call-7" {
		t.Errorf("call id = %q", all[0].CallID)
	}

	if _, err := ts.CreateTicket(context.Background(), cc, "", "desc", "high"); err == nil {
		t.Error("expected error for missing subject")
	}
	if _, err := ts.CreateTicket(context.Background(), cc, "subj", "desc", "urgent"); err == nil {
		t.Error("expected error for unknown priority")
	}
}

func TestHours_DefaultAndOverride(t *testing.T) {
	t.Parallel()
	h := NewHours()

	week, err := h.BusinessHours(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if week["monday"] != "09:00-17:00" || week["sunday"] != "closed" {
		t.Errorf("default week = %v", week)
	}

	h.Set("acme", map[string]string{"Monday": "07:00-19:00"})
	week, err = h.BusinessHours(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if week["monday"] != "07:00-19:00" {
		t.Errorf("override week = %v", week)
	}

	// Other businesses still get the default.
	week, _ = h.BusinessHours(context.Background(), "globex")
	if week["tuesday"] != "09:00-17:00" {
		t.Errorf("globex week = %v", week)
	}
}
