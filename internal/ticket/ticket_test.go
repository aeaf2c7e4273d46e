package ticket

import (
	"encoding/json"
	"testing"
)

func TestTicket_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tkt  Ticket
		want bool
	}{
		{
			name: "all fields set",
			tkt:  Ticket{ID: "tkt-1", Title: "Login broken", Description: "500 on submit", RequesterID: "usr-9"},
			want: true,
		},
		{
			name: "requester optional",
			tkt:  Ticket{ID: "tkt-1", Title: "Login broken", Description: "500 on submit"},
			want: true,
		},
		{
			name: "missing id",
			tkt:  Ticket{Title: "Login broken", Description: "500 on submit"},
			want: false,
		},
		{
			name: "missing title",
			tkt:  Ticket{ID: "tkt-1", Description: "500 on submit"},
			want: false,
		},
		{
			name: "missing description",
			tkt:  Ticket{ID: "tkt-1", Title: "Login broken"},
			want: false,
		},
		{
			name: "zero value",
			tkt:  Ticket{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.tkt.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreatedData_Ticket(t *testing.T) {
	t.Parallel()

	d := CreatedData{
		TicketID:    "tkt-42",
		Title:       "Checkout fails",
		Description: "cart empties on pay",
		RequesterID: "usr-7",
	}

	tkt := d.Ticket()
	if tkt.ID != "tkt-42" {
		t.Errorf("ID = %q, want %q", tkt.ID, "tkt-42")
	}
	if tkt.Title != "Checkout fails" {
		t.Errorf("Title = %q, want %q", tkt.Title, "Checkout fails")
	}
	if tkt.Description != "cart empties on pay" {
		t.Errorf("Description = %q", tkt.Description)
	}
	if tkt.RequesterID != "usr-7" {
		t.Errorf("RequesterID = %q, want %q", tkt.RequesterID, "usr-7")
	}
}

func TestCreatedData_TicketIDKey(t *testing.T) {
	t.Parallel()

	// The wire payload keys the ticket by "ticketId", not "id".
	var d CreatedData
	raw := []byte(`{"ticketId":"tkt-1","title":"t","description":"d","requesterId":"u"}`)
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.TicketID != "tkt-1" {
		t.Errorf("TicketID = %q, want %q", d.TicketID, "tkt-1")
	}
	if !d.Ticket().Valid() {
		t.Error("decoded payload should produce a valid ticket")
	}
}

func TestEnvelope_Unmarshal(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"id":"evt-1","name":"ticket/created","data":{"ticketId":"tkt-1"}}`)
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if env.ID != "evt-1" {
		t.Errorf("ID = %q, want %q", env.ID, "evt-1")
	}
	if env.Name != EventTicketCreated {
		t.Errorf("Name = %q, want %q", env.Name, EventTicketCreated)
	}

	var d CreatedData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if d.TicketID != "tkt-1" {
		t.Errorf("TicketID = %q, want %q", d.TicketID, "tkt-1")
	}
}

func TestEnvelope_OmitsEmptyID(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(Envelope{Name: EventTicketCreated, Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if _, ok := m["id"]; ok {
		t.Error("empty id should be omitted from the wire form")
	}
}
