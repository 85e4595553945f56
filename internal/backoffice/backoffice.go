// Package backoffice provides in-memory implementations of the CRM-style
// collaborators behind the built-in tool set: customer lookup, appointment
// booking, order tracking, ticketing and opening hours. Deployments with a
// real CRM replace these by implementing the interfaces in internal/tools.
package backoffice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/tools"
)

// ErrOrderNotFound is returned by [Orders.OrderStatus] for unknown order IDs.
var ErrOrderNotFound = errors.New("backoffice: order not found")

// Directory is a seedable in-memory customer directory.
type Directory struct {
	mu        sync.RWMutex
	byPhone   map[string]*tools.Customer
	byEmail   map[string]*tools.Customer
	customers []*tools.Customer
}

var _ tools.CustomerDirectory = (*Directory)(nil)

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byPhone: make(map[string]*tools.Customer),
		byEmail: make(map[string]*tools.Customer),
	}
}

// Add registers a customer. An empty ID is filled in with a fresh UUID.
// The returned customer is the stored copy.
func (d *Directory) Add(c tools.Customer) *tools.Customer {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	stored := &c
	d.customers = append(d.customers, stored)
	if c.Phone != "" {
		d.byPhone[c.Phone] = stored
	}
	if c.Email != "" {
		d.byEmail[strings.ToLower(c.Email)] = stored
	}
	return stored
}

// LookupCustomer finds a customer by phone or email. Phone wins when both are
// given. A nil customer with a nil error means no match.
func (d *Directory) LookupCustomer(_ context.Context, phone, email string) (*tools.Customer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if phone != "" {
		if c, ok := d.byPhone[phone]; ok {
			cp := *c
			return &cp, nil
		}
	}
	if email != "" {
		if c, ok := d.byEmail[strings.ToLower(email)]; ok {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

// Appointment is one booked slot.
type Appointment struct {
	ID            string
	BusinessID    string
	CallID        string
	CustomerPhone string
	Date          string
	StartTime     string
	ServiceType   string
	CreatedAt     time.Time
}

// Scheduler books appointments into an in-memory book.
type Scheduler struct {
	mu    sync.Mutex
	now   func() time.Time
	byID  map[string]*Appointment
	order []string
}

var _ tools.Scheduler = (*Scheduler)(nil)

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		now:  time.Now,
		byID: make(map[string]*Appointment),
	}
}

// ScheduleAppointment validates the slot and records it. Dates are YYYY-MM-DD,
// times HH:MM 24-hour; slots in the past are rejected.
func (s *Scheduler) ScheduleAppointment(_ context.Context, cc tools.CallContext, date, startTime, serviceType string) (string, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", fmt.Errorf("backoffice: invalid date %q: want YYYY-MM-DD", date)
	}
	clock, err := time.Parse("15:04", startTime)
	if err != nil {
		return "", fmt.Errorf("backoffice: invalid time %q: want HH:MM", startTime)
	}
	if serviceType == "" {
		return "", errors.New("backoffice: service type is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC)
	if slot.Before(s.now().UTC().Truncate(time.Minute)) {
		return "", fmt.Errorf("backoffice: slot %s %s is in the past", date, startTime)
	}

	a := &Appointment{
		ID:            uuid.NewString(),
		BusinessID:    cc.BusinessID,
		CallID:        cc.CallID,
		CustomerPhone: cc.CustomerPhone,
		Date:          date,
		StartTime:     startTime,
		ServiceType:   serviceType,
		CreatedAt:     s.now(),
	}
	s.byID[a.ID] = a
	s.order = append(s.order, a.ID)
	return a.ID, nil
}

// Appointments returns all booked appointments in booking order.
func (s *Scheduler) Appointments() []Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Appointment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Orders is a seedable in-memory order tracker.
type Orders struct {
	mu     sync.RWMutex
	orders map[string]tools.OrderInfo
}

var _ tools.OrderTracker = (*Orders)(nil)

// NewOrders creates an empty order tracker.
func NewOrders() *Orders {
	return &Orders{orders: make(map[string]tools.OrderInfo)}
}

// Add seeds one order. Lookups are case-insensitive on the order ID, since
// callers read IDs out loud.
func (o *Orders) Add(info tools.OrderInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orders[strings.ToUpper(info.OrderID)] = info
}

// OrderStatus returns the status snapshot for orderID, or
// [ErrOrderNotFound].
func (o *Orders) OrderStatus(_ context.Context, orderID string) (tools.OrderInfo, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	info, ok := o.orders[strings.ToUpper(strings.TrimSpace(orderID))]
	if !ok {
		return tools.OrderInfo{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return info, nil
}

// Ticket is one filed support ticket.
type Ticket struct {
	ID            string
	BusinessID    string
	CallID        string
	CustomerPhone string
	Subject       string
	Description   string
	Priority      string
	CreatedAt     time.Time
}

// Tickets files support tickets into an in-memory queue.
type Tickets struct {
	mu      sync.Mutex
	now     func() time.Time
	tickets []Ticket
}

var _ tools.TicketSystem = (*Tickets)(nil)

// NewTickets creates an empty ticket system.
func NewTickets() *Tickets {
	return &Tickets{now: time.Now}
}

// CreateTicket files a ticket and returns its ID.
func (t *Tickets) CreateTicket(_ context.Context, cc tools.CallContext, subject, description, priority string) (string, error) {
	if subject == "" {
		return "", errors.New("backoffice: ticket subject is required")
	}
	switch priority {
	case "low", "normal", "high":
	case "":
		priority = "normal"
	default:
		return "", fmt.Errorf("backoffice: unknown ticket priority %q", priority)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tk := Ticket{
		ID:            uuid.NewString(),
		BusinessID:    cc.BusinessID,
		CallID:        cc.CallID,
		CustomerPhone: cc.CustomerPhone,
		Subject:       subject,
		Description:   description,
		Priority:      priority,
		CreatedAt:     t.now(),
	}
	t.tickets = append(t.tickets, tk)
	return tk.ID, nil
}

// All returns the filed tickets in filing order.
func (t *Tickets) All() []Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Ticket(nil), t.tickets...)
}

// Hours serves per-business opening hours with a shared default week.
type Hours struct {
	mu         sync.RWMutex
	defaults   map[string]string
	byBusiness map[string]map[string]string
}

var _ tools.HoursProvider = (*Hours)(nil)

// NewHours creates an hours provider with a standard business week as the
// default.
func NewHours() *Hours {
	return &Hours{
		defaults: map[string]string{
			"monday":    "09:00-17:00",
			"tuesday":   "09:00-17:00",
			"wednesday": "09:00-17:00",
			"thursday":  "09:00-17:00",
			"friday":    "09:00-17:00",
			"saturday":  "closed",
			"sunday":    "closed",
		},
		byBusiness: make(map[string]map[string]string),
	}
}

// Set overrides the week for one business. The map is copied.
func (h *Hours) Set(businessID string, week map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cp := make(map[string]string, len(week))
	for day, span := range week {
		cp[strings.ToLower(day)] = span
	}
	h.byBusiness[businessID] = cp
}

// BusinessHours returns the opening hours for businessID, falling back to the
// default week when no override is set.
func (h *Hours) BusinessHours(_ context.Context, businessID string) (map[string]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	src := h.defaults
	if week, ok := h.byBusiness[businessID]; ok {
		src = week
	}
	out := make(map[string]string, len(src))
	for day, span := range src {
		out[day] = span
	}
	return out, nil
}
