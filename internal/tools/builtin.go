package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/realtime"
)

// Collaborator interfaces for the built-in tool set. Each is implemented by
// the matching subsystem (postgres store, escalation coordinator, retrieval
// pipeline); tools with a nil collaborator are simply not registered.

// Customer is the profile snapshot returned to the model.
type Customer struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Phone string         `json:"phone,omitempty"`
	Email string         `json:"email,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// CustomerDirectory looks customers up by phone or email. A nil customer with
// a nil error means no match.
type CustomerDirectory interface {
	LookupCustomer(ctx context.Context, phone, email string) (*Customer, error)
}

// Scheduler books appointments.
type Scheduler interface {
	ScheduleAppointment(ctx context.Context, cc CallContext, date, startTime, serviceType string) (appointmentID string, err error)
}

// Escalator hands a call off to a human. Implemented by the escalation
// coordinator.
type Escalator interface {
	RequestEscalation(ctx context.Context, cc CallContext, reason, priority string) (escalationID string, err error)
}

// Snippet is one voice-ready knowledge-base hit.
type Snippet struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// SnippetSearcher answers knowledge-base queries. Implemented by the
// retrieval pipeline.
type SnippetSearcher interface {
	SearchSnippets(ctx context.Context, businessID, query, category string) ([]Snippet, error)
}

// OrderInfo is the status snapshot for one order.
type OrderInfo struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Tracking string `json:"tracking,omitempty"`
	ETA      string `json:"eta,omitempty"`
}

// OrderTracker resolves order status.
type OrderTracker interface {
	OrderStatus(ctx context.Context, orderID string) (OrderInfo, error)
}

// TicketSystem files support tickets.
type TicketSystem interface {
	CreateTicket(ctx context.Context, cc CallContext, subject, description, priority string) (ticketID string, err error)
}

// HoursProvider returns opening hours per weekday.
type HoursProvider interface {
	BusinessHours(ctx context.Context, businessID string) (map[string]string, error)
}

// BuiltinDeps carries the collaborators for the built-in tools. Nil fields
// disable the corresponding tool.
type BuiltinDeps struct {
	Customers CustomerDirectory
	Scheduler Scheduler
	Escalator Escalator
	Knowledge SnippetSearcher
	Orders    OrderTracker
	Tickets   TicketSystem
	Hours     HoursProvider
}

// Builtin returns the standard telephony tool set for the given
// collaborators.
func Builtin(deps BuiltinDeps) []Tool {
	var ts []Tool
	if deps.Customers != nil {
		ts = append(ts, lookupCustomerTool(deps.Customers))
	}
	if deps.Scheduler != nil {
		ts = append(ts, scheduleAppointmentTool(deps.Scheduler))
	}
	if deps.Escalator != nil {
		ts = append(ts, escalateToHumanTool(deps.Escalator))
	}
	if deps.Knowledge != nil {
		ts = append(ts, searchKnowledgeBaseTool(deps.Knowledge))
	}
	if deps.Orders != nil {
		ts = append(ts, checkOrderStatusTool(deps.Orders))
	}
	if deps.Tickets != nil {
		ts = append(ts, createSupportTicketTool(deps.Tickets))
	}
	if deps.Hours != nil {
		ts = append(ts, getBusinessHoursTool(deps.Hours))
	}
	return ts
}

func lookupCustomerTool(dir CustomerDirectory) Tool {
	return Tool{
		Schema: realtime.ToolSchema{
			Name:        "lookup_customer",
			Description: "Look up a customer profile by phone number or email address.",
			Parameters: ObjectSchema(map[string]any{
				"phone_number": StringProp("Customer phone number in E.164 format."),
				"email":        StringProp("Customer email address."),
			}),
		},
		Handler: func(ctx context.Context, args json.RawMessage, cc CallContext) (any, error) {
			var in struct {
				PhoneNumber string `json:"phone_number"`
				Email       string `json:"email"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			if in.PhoneNumber == "" && in.Email == "" {
				// Fall back to the caller's own number when the model
				// passes nothing.
				in.PhoneNumber = cc.CustomerPhone
			}
			if in.PhoneNumber == "" && in.Email == "" {
				return nil, fmt.Errorf("phone_number or email is required")
			}
			c, err := dir.LookupCustomer(ctx, in.PhoneNumber, in.Email)
			if err != nil {
				return nil, err
			}
			if c == nil {
				return map[string]any{"found": false}, nil
			}
			return map[string]any{"found": true, "customer": c}, nil
		},
	}
}

func scheduleAppointmentTool(sched Scheduler) Tool {
	return Tool{
		Schema: realtime.ToolSchema{
			Name:        "schedule_appointment",
			Description: "Book an appointment for the caller.",
			Parameters: ObjectSchema(map[string]any{
				"date":         StringProp("Appointment date, YYYY-MM-DD."),
				"time":         StringProp("Appointment start time, HH:MM 24-hour."),
				"service_type": StringProp("The requested service."),
			}, "date", "time", "service_type"),
		},
		Handler: func(ctx context.Context, args json.RawMessage, cc CallContext) (any, error) {
			var in struct {
				Date        string `json:"date"`
				Time        string `json:"time"`
				ServiceType string `json:"service_type"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			if in.Date == "" || in.Time == "" || in.ServiceType == "" {
				return nil, fmt.Errorf("date, time and service_type are all required")
			}
			id, err := sched.ScheduleAppointment(ctx, cc, in.Date, in.Time, in.ServiceType)
			if err != nil {
				return nil, err
			}
			return map[string]any{"ok": true, "appointment_id": id}, nil
		},
	}
}

func escalateToHumanTool(esc Escalator) Tool {
	return Tool{
		Schema: realtime.ToolSchema{
			Name:        "escalate_to_human",
			Description: "Hand the call off to a human agent when the caller asks for one or the issue is beyond this assistant.",
			Parameters: ObjectSchema(map[string]any{
				"reason": EnumProp("Why the call needs a human.",
					"complex_issue", "customer_request", "technical_problem"),
				"priority": EnumProp("Urgency of the hand-off.", "low", "normal", "high"),
			}, "reason"),
		},
		Handler: func(ctx context.Context, args json.RawMessage, cc CallContext) (any, error) {
			var in struct {
				Reason   string `json:"reason"`
				Priority string `json:"priority"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			switch in.Reason {
			case "complex_issue", "customer_request", "technical_problem":
			default:
				return nil, fmt.Errorf("unknown escalation reason %q", in.Reason)
			}
			if in.Priority == "" {
				in.Priority = "normal"
			}
			id, err := esc.RequestEscalation(ctx, cc, in.Reason, in.Priority)
			if err != nil {
				return nil, err
			}
			return map[string]any{"ok": true, "escalation_id": id}, nil
		},
	}
}

func searchKnowledgeBaseTool(kb SnippetSearcher) Tool {
	return Tool{
		Schema: realtime.ToolSchema{
			Name:        "search_knowledge_base",
			Description: "Search the business knowledge base for an answer to the caller's question.",
			Parameters: ObjectSchema(map[string]any{
				"query":    StringProp("The caller's question, rephrased as a search query."),
				"category": StringProp("Optional category filter, e.g. a vendor or product name."),
			}, "query"),
		},
		Handler: func(ctx context.Context, args json.RawMessage, cc CallContext) (any, error) {
			var in struct {
				Query    string `json:"query"`
				Category string `json:"category"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			if in.Query == "" {
				return nil, fmt.Errorf("query is required")
			}
			hits, err := kb.SearchSnippets(ctx, cc.BusinessID, in.Query, in.Category)
			if err != nil {
				return nil, err
			}
			if hits == nil {
				hits = []Snippet{}
			}
			return map[string]any{"results": hits}, nil
		},
	}
}

func checkOrderStatusTool(orders OrderTracker) Tool {
	return Tool{
		Schema: realtime.ToolSchema{
			Name:        "check_order_status",
			Description: "Look up the status and tracking information for an order.",
			Parameters: ObjectSchema(map[string]any{
				"order_id": StringProp("The order identifier the caller provided."),
			}, "order_id"),
		},
		Handler: func(ctx context.Context, args json.RawMessage, _ CallContext) (any, error) {
			var in struct {
				OrderID string `json:"order_id"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			if in.OrderID == "" {
				return nil, fmt.Errorf("order_id is required")
			}
			info, err := orders.OrderStatus(ctx, in.OrderID)
			if err != nil {
				return nil, err
			}
			return info, nil
		},
	}
}

func createSupportTicketTool(tickets TicketSystem) Tool {
	return Tool{
		Schema: realtime.ToolSchema{
			Name:        "create_support_ticket",
			Description: "File a support ticket for an issue that cannot be resolved during the call.",
			Parameters: ObjectSchema(map[string]any{
				"subject":     StringProp("Short summary of the issue."),
				"description": StringProp("Full description including what the caller already tried."),
				"priority":    EnumProp("Ticket priority.", "low", "normal", "high"),
			}, "subject", "description"),
		},
		Handler: func(ctx context.Context, args json.RawMessage, cc CallContext) (any, error) {
			var in struct {
				Subject     string `json:"subject"`
				Description string `json:"description"`
				Priority    string `json:"priority"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			if in.Subject == "" || in.Description == "" {
				return nil, fmt.Errorf("subject and description are required")
			}
			if in.Priority == "" {
				in.Priority = "normal"
			}
			id, err := tickets.CreateTicket(ctx, cc, in.Subject, in.Description, in.Priority)
			if err != nil {
				return nil, err
			}
			return map[string]any{"ok": true, "ticket_id": id}, nil
		},
	}
}

func getBusinessHoursTool(hours HoursProvider) Tool {
	return Tool{
		Schema: realtime.ToolSchema{
			Name:        "get_business_hours",
			Description: "Get the business opening hours.",
			Parameters:  ObjectSchema(map[string]any{}),
		},
		Handler: func(ctx context.Context, _ json.RawMessage, cc CallContext) (any, error) {
			h, err := hours.BusinessHours(ctx, cc.BusinessID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"hours": h}, nil
		},
	}
}
