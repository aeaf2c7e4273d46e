// Package ticket defines the support-ticket record and the ticket/created
// event payload that triggers triage. Tickets are created by an external
// collaborator; sift only reads them.
package ticket

import "encoding/json"

// EventTicketCreated is the only event name the triage pipeline reacts to.
const EventTicketCreated = "ticket/created"

// Ticket is a support request record. Immutable once triage begins.
type Ticket struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RequesterID string `json:"requesterId"`
}

// Valid reports whether the ticket carries the fields the model client
// requires. The model must not be invoked for an invalid ticket.
func (t *Ticket) Valid() bool {
	return t.ID != "" && t.Title != "" && t.Description != ""
}

// CreatedData is the data payload of a ticket/created event.
type CreatedData struct {
	TicketID    string `json:"ticketId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RequesterID string `json:"requesterId"`
}

// Ticket converts the event payload into a Ticket.
func (d *CreatedData) Ticket() *Ticket {
	return &Ticket{
		ID:          d.TicketID,
		Title:       d.Title,
		Description: d.Description,
		RequesterID: d.RequesterID,
	}
}

// Envelope is the wire form of an inbound event.
type Envelope struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}
