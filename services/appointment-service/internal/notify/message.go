// Package notify builds and delivers the appointment emails.
package notify

import (
	"fmt"

	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/model"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

// CreatedMessage is the confirmation sent when an appointment is booked.
// It carries the full pet record so the clinic front desk can verify the
// animal without opening the registry.
func CreatedMessage(appt *model.Appointment, pet *model.Pet) *Message {
	when := appt.Date.Format(model.DateLayout)
	if appt.TimeOfDay != "" {
		when += " " + appt.TimeOfDay
	}
	html := fmt.Sprintf(
		"<strong>Your veterinary appointment request.</strong><br>"+
			"The appointment is scheduled for <strong>%s</strong>.<br>"+
			"Identifier: %s<br>"+
			"Pet name: %s<br>"+
			"Age: %d<br>"+
			"Breed: %s<br>"+
			"Health status: %s<br>"+
			"Reason: %s",
		when, pet.Identifier, pet.Name, pet.Age, pet.Breed, pet.HealthStatus, appt.Reason,
	)
	return &Message{
		To:      appt.ContactEmail,
		Subject: "Veterinary appointment request",
		HTML:    html,
	}
}

// UpdatedMessage is sent after a successful reschedule. Dates are shown as
// DD/MM/YYYY, the format clients of the legacy system are used to.
func UpdatedMessage(appt *model.Appointment, pet *model.Pet) *Message {
	when := appt.Date.Format("02/01/2006")
	if appt.TimeOfDay != "" {
		when += " " + appt.TimeOfDay
	}
	html := fmt.Sprintf(
		"<strong>Your veterinary appointment has been updated.</strong><br>"+
			"The appointment is now scheduled for <strong>%s</strong>.<br>"+
			"Pet name: %s<br>"+
			"Reason: %s",
		when, pet.Name, appt.Reason,
	)
	return &Message{
		To:      appt.ContactEmail,
		Subject: "Veterinary appointment updated",
		HTML:    html,
	}
}
