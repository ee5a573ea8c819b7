// Package designer maintains the interactive template-design state for
// one build session: placing, dragging and deleting template fields on
// the design canvas.
package designer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dkarpov/certmail/internal/template"
)

var (
	ErrFieldNotFound   = errors.New("field not found")
	ErrTemplateLocked  = errors.New("template is locked")
	ErrNoBackground    = errors.New("template has no background image")
	ErrNoFields        = errors.New("template has no fields")
	ErrInvalidCanvas   = errors.New("invalid canvas dimensions")
	ErrColumnRequired  = errors.New("bound fields require a column name")
	ErrContentRequired = errors.New("literal fields require content")
)

// Default size of a newly placed field, in design-canvas pixels. Used
// for drag clamping, not for text wrapping.
const (
	defaultFieldWidth  = 200
	defaultFieldHeight = 40
)

// Designer edits one Template on a design canvas of known dimensions.
// Once Freeze is called the template becomes read-only.
type Designer struct {
	tmpl         template.Template
	canvasWidth  float64
	canvasHeight float64
	frozen       bool
}

// New creates a designer for an empty template on the given canvas.
func New(canvasWidth, canvasHeight float64) (*Designer, error) {
	if canvasWidth <= 0 || canvasHeight <= 0 {
		return nil, ErrInvalidCanvas
	}
	return &Designer{
		canvasWidth:  canvasWidth,
		canvasHeight: canvasHeight,
	}, nil
}

// Resume creates a designer over an existing template, e.g. when the
// user steps back from the email editor. The canvas may differ from the
// one the template was designed on; field coordinates are kept as-is
// and reconciled at render time via the recorded canvas size.
func Resume(tmpl template.Template, canvasWidth, canvasHeight float64) (*Designer, error) {
	d, err := New(canvasWidth, canvasHeight)
	if err != nil {
		return nil, err
	}
	d.tmpl = tmpl
	return d, nil
}

// SetBackground sets the background image data URI.
func (d *Designer) SetBackground(dataURI string) error {
	if d.frozen {
		return ErrTemplateLocked
	}
	d.tmpl.BackgroundImage = dataURI
	return nil
}

// PlaceBoundField adds a new text field bound to a dataset column at
// pointer coordinates. The editor shows the {column} placeholder until
// send time. Returns the new field's id.
func (d *Designer) PlaceBoundField(column string, x, y float64) (string, error) {
	if d.frozen {
		return "", ErrTemplateLocked
	}
	if column == "" {
		return "", ErrColumnRequired
	}

	f := template.Field{
		ID:         uuid.New().String(),
		Kind:       template.FieldText,
		Content:    fmt.Sprintf("{%s}", column),
		X:          x,
		Y:          y,
		Width:      defaultFieldWidth,
		Height:     defaultFieldHeight,
		FontSize:   template.DefaultFontSize,
		FontFamily: template.DefaultFontFamily,
		Color:      template.DefaultColor,
		Bound:      true,
		Column:     column,
	}
	f.X, f.Y = d.clamp(f.X, f.Y, f.Width, f.Height)

	d.tmpl.Fields = append(d.tmpl.Fields, f)
	return f.ID, nil
}

// PlaceTextField adds a literal (unbound) text field.
func (d *Designer) PlaceTextField(content string, x, y float64) (string, error) {
	if d.frozen {
		return "", ErrTemplateLocked
	}
	if content == "" {
		return "", ErrContentRequired
	}

	f := template.Field{
		ID:         uuid.New().String(),
		Kind:       template.FieldText,
		Content:    content,
		X:          x,
		Y:          y,
		Width:      defaultFieldWidth,
		Height:     defaultFieldHeight,
		FontSize:   template.DefaultFontSize,
		FontFamily: template.DefaultFontFamily,
		Color:      template.DefaultColor,
	}
	f.X, f.Y = d.clamp(f.X, f.Y, f.Width, f.Height)

	d.tmpl.Fields = append(d.tmpl.Fields, f)
	return f.ID, nil
}

// MoveField drags a field to new pointer coordinates, clamped so its
// bounding box never leaves the canvas.
func (d *Designer) MoveField(id string, x, y float64) error {
	if d.frozen {
		return ErrTemplateLocked
	}
	f := d.tmpl.FieldByID(id)
	if f == nil {
		return ErrFieldNotFound
	}
	f.X, f.Y = d.clamp(x, y, f.Width, f.Height)
	return nil
}

// Style holds the editable style attributes of a field. Nil members are
// left unchanged.
type Style struct {
	FontSize   *float64
	FontFamily *string
	Color      *string
}

// StyleField updates a field's style attributes.
func (d *Designer) StyleField(id string, style Style) error {
	if d.frozen {
		return ErrTemplateLocked
	}
	f := d.tmpl.FieldByID(id)
	if f == nil {
		return ErrFieldNotFound
	}
	if style.FontSize != nil && *style.FontSize > 0 {
		f.FontSize = *style.FontSize
	}
	if style.FontFamily != nil && *style.FontFamily != "" {
		f.FontFamily = *style.FontFamily
	}
	if style.Color != nil && *style.Color != "" {
		f.Color = *style.Color
	}
	return nil
}

// DeleteField removes a field from the template.
func (d *Designer) DeleteField(id string) error {
	if d.frozen {
		return ErrTemplateLocked
	}
	for i := range d.tmpl.Fields {
		if d.tmpl.Fields[i].ID == id {
			d.tmpl.Fields = append(d.tmpl.Fields[:i], d.tmpl.Fields[i+1:]...)
			return nil
		}
	}
	return ErrFieldNotFound
}

// Template returns a snapshot of the current template state.
func (d *Designer) Template() template.Template {
	t := d.tmpl
	t.Fields = append([]template.Field(nil), d.tmpl.Fields...)
	t.CanvasWidth = d.canvasWidth
	t.CanvasHeight = d.canvasHeight
	return t
}

// Freeze validates the template, records the design canvas dimensions
// and locks the designer. The returned template is what the compositor
// consumes for every row.
func (d *Designer) Freeze() (template.Template, error) {
	if d.tmpl.BackgroundImage == "" {
		return template.Template{}, ErrNoBackground
	}
	if len(d.tmpl.Fields) == 0 {
		return template.Template{}, ErrNoFields
	}
	d.frozen = true
	return d.Template(), nil
}

// clamp constrains a field's top-left corner so that its bounding box
// stays inside the canvas.
func (d *Designer) clamp(x, y, w, h float64) (float64, float64) {
	maxX := d.canvasWidth - w
	maxY := d.canvasHeight - h
	if maxX < 0 {
		maxX = 0
	}
	if maxY < 0 {
		maxY = 0
	}
	x = min(max(x, 0), maxX)
	y = min(max(y, 0), maxY)
	return x, y
}
