package project

import (
	"time"

	"github.com/dkarpov/certmail/internal/dataset"
	"github.com/dkarpov/certmail/internal/sender"
	"github.com/dkarpov/certmail/internal/template"
)

// Step represents the lifecycle step a project is in
type Step string

const (
	StepImport Step = "import"
	StepDesign Step = "design"
	StepEmail  Step = "email"
	StepSend   Step = "send"
)

// stepOrder maps steps to their position in the lifecycle
var stepOrder = map[Step]int{
	StepImport: 0,
	StepDesign: 1,
	StepEmail:  2,
	StepSend:   3,
}

// Valid reports whether s is a known lifecycle step
func (s Step) Valid() bool {
	_, ok := stepOrder[s]
	return ok
}

// After reports whether s comes after other in the lifecycle
func (s Step) After(other Step) bool {
	return stepOrder[s] > stepOrder[other]
}

// Project represents one certificate campaign: a dataset, a certificate
// template designed against it, an email template, and the state of the
// last send run. The template is frozen once the project advances past
// the design step.
type Project struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Step       Step              `json:"step"`
	Dataset    *dataset.Dataset  `json:"dataset,omitempty"`
	Template   template.Template `json:"template"`
	Email      template.Email    `json:"email"`
	StatusLine string            `json:"status_line,omitempty"`
	Sending    bool              `json:"sending"`
	Report     *sender.Report    `json:"report,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// clone returns a shallow copy safe to hand to readers while the
// original keeps mutating under the store lock. Dataset and Report are
// treated as immutable once attached.
func (p *Project) clone() *Project {
	c := *p
	c.Template.Fields = append([]template.Field(nil), p.Template.Fields...)
	return &c
}
