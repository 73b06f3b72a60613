// internal/app/render.go
package app

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"clinic_reminder_dispatch/internal/domain/delivery"
	"clinic_reminder_dispatch/internal/domain/reminder"
)

const (
	dateLayout = "Monday, January 2, 2006"
	timeLayout = "3:04 PM"
)

var reminderEmailTemplate = template.Must(template.New("reminder").Parse(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Appointment Reminder</h2>
  <p>This is a reminder for your upcoming dental appointment:</p>
  <div style="background: #f5f5f5; padding: 20px; border-radius: 8px; margin: 20px 0;">
    <p><strong>Service:</strong> {{.Service}}</p>
    {{- if .Dentist}}
    <p><strong>Dentist:</strong> Dr. {{.Dentist}}</p>
    {{- end}}
    <p><strong>Time:</strong> {{.Time}}</p>
  </div>
  <p>Please arrive 10 minutes early. If you need to cancel or reschedule, please contact us as soon as possible.</p>
  <p>Thank you,<br>{{.Clinic}} Team</p>
</div>
`))

type reminderView struct {
	Clinic  string
	Patient string
	Service string
	Dentist string
	Time    string
}

// Renderer turns a due reminder into a channel message in the clinic's time zone.
type Renderer struct {
	clinicName string
	location   *time.Location
}

func NewRenderer(clinicName string, location *time.Location) *Renderer {
	if location == nil {
		location = time.UTC
	}
	return &Renderer{clinicName: clinicName, location: location}
}

// Subject returns the message subject for a reminder kind.
func Subject(kind reminder.Kind) string {
	if kind == reminder.KindLongLead {
		return "Reminder: Upcoming Appointment Tomorrow"
	}
	return "Reminder: Upcoming Appointment in 2 Hours"
}

// FormatAppointmentTime renders "Monday, March 10, 2025 • 10:30 AM - 11:00 AM".
// The end time is omitted when unknown.
func (r *Renderer) FormatAppointmentTime(startsAt time.Time, endsAt *time.Time) string {
	start := startsAt.In(r.location)
	out := start.Format(dateLayout) + " • " + start.Format(timeLayout)
	if endsAt != nil {
		out += " - " + endsAt.In(r.location).Format(timeLayout)
	}
	return out
}

// Render builds the message for medium, addressed to the given recipient.
func (r *Renderer) Render(medium delivery.Medium, kind reminder.Kind, appt *reminder.Appointment, to string) (delivery.Message, error) {
	if appt == nil {
		return delivery.Message{}, fmt.Errorf("cannot render reminder without appointment")
	}

	var endsAt *time.Time
	if appt.EndsAt.Valid {
		endsAt = &appt.EndsAt.Time
	}
	view := reminderView{
		Clinic:  r.clinicName,
		Patient: appt.PatientName.String,
		Service: appt.ServiceName.String,
		Dentist: appt.DentistName.String,
		Time:    r.FormatAppointmentTime(appt.StartsAt, endsAt),
	}
	msg := delivery.Message{To: to, Subject: Subject(kind)}

	if medium == delivery.MediumSMS {
		with := ""
		if view.Dentist != "" {
			with = " with Dr. " + view.Dentist
		}
		msg.Text = fmt.Sprintf("%s: %s%s on %s. Please arrive 10 minutes early.",
			view.Clinic, view.Service, with, view.Time)
		return msg, nil
	}

	var html bytes.Buffer
	if err := reminderEmailTemplate.Execute(&html, view); err != nil {
		return delivery.Message{}, fmt.Errorf("failed to render reminder email: %w", err)
	}
	msg.HTML = html.String()
	msg.Text = r.plainText(view)
	return msg, nil
}

func (r *Renderer) plainText(v reminderView) string {
	var b strings.Builder
	b.WriteString("Appointment Reminder\n\n")
	if v.Patient != "" {
		fmt.Fprintf(&b, "Hello %s,\n\n", v.Patient)
	}
	b.WriteString("This is a reminder for your upcoming dental appointment:\n\n")
	fmt.Fprintf(&b, "Service: %s\n", v.Service)
	if v.Dentist != "" {
		fmt.Fprintf(&b, "Dentist: Dr. %s\n", v.Dentist)
	}
	fmt.Fprintf(&b, "Time: %s\n\n", v.Time)
	b.WriteString("Please arrive 10 minutes early. If you need to cancel or reschedule, please contact us as soon as possible.\n\n")
	fmt.Fprintf(&b, "Thank you,\n%s Team\n", v.Clinic)
	return b.String()
}
