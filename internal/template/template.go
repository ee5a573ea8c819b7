// Package template defines the certificate template model and the
// placeholder substitution engine shared by rendering and email building.
package template

// Default design canvas size. The interactive designer works on a 4:3
// surface; when a template does not record its canvas dimensions these
// are assumed.
const (
	DefaultCanvasWidth  = 800
	DefaultCanvasHeight = 600
)

// Default field styling.
const (
	DefaultFontSize   = 16
	DefaultFontFamily = "Arial"
	DefaultColor      = "#000000"
)

// FieldKind discriminates template field variants.
type FieldKind string

const (
	// FieldText is a positioned text field, optionally bound to a
	// dataset column.
	FieldText FieldKind = "text"
)

// Field is a positioned, styled element on the certificate template.
// Positions and sizes are in design-canvas pixels, top-left origin.
type Field struct {
	ID   string    `json:"id"`
	Kind FieldKind `json:"kind"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	FontSize   float64 `json:"font_size,omitempty"`
	FontFamily string  `json:"font_family,omitempty"`
	Color      string  `json:"color,omitempty"`

	// Content is the literal text, or the {column} placeholder shown in
	// the editor when the field is bound.
	Content string `json:"content"`

	// Bound fields take their rendered text from the named dataset
	// column, falling back to Content when the row has no value.
	Bound  bool   `json:"bound,omitempty"`
	Column string `json:"column,omitempty"`
}

// EffectiveFontSize returns the field's font size with the default applied.
func (f *Field) EffectiveFontSize() float64 {
	if f.FontSize > 0 {
		return f.FontSize
	}
	return DefaultFontSize
}

// EffectiveFontFamily returns the field's font family with the default applied.
func (f *Field) EffectiveFontFamily() string {
	if f.FontFamily != "" {
		return f.FontFamily
	}
	return DefaultFontFamily
}

// EffectiveColor returns the field's color with the default applied.
func (f *Field) EffectiveColor() string {
	if f.Color != "" {
		return f.Color
	}
	return DefaultColor
}

// DisplayText resolves the text a field renders for one row mapping:
// the bound column's value when present and non-empty, otherwise the
// literal content (which for bound fields is the visible placeholder).
func (f *Field) DisplayText(row map[string]string) string {
	if f.Bound && f.Column != "" {
		if v := row[f.Column]; v != "" {
			return v
		}
	}
	return f.Content
}

// Template describes a certificate: a background image and the fields
// painted over it. Fields paint in slice order; rendering is otherwise
// independent per field.
type Template struct {
	// BackgroundImage is an encoded raster image data URI, or empty when
	// no background has been uploaded yet.
	BackgroundImage string  `json:"background_image"`
	Fields          []Field `json:"fields"`

	// Dimensions of the design surface the fields were placed on. The
	// designer canvas is viewport-responsive, so these are recorded for
	// reconciliation against the fixed output raster.
	CanvasWidth  float64 `json:"canvas_width,omitempty"`
	CanvasHeight float64 `json:"canvas_height,omitempty"`
}

// DesignSize returns the recorded canvas dimensions, defaulting to
// 800x600 when the template predates dimension recording.
func (t *Template) DesignSize() (w, h float64) {
	w, h = t.CanvasWidth, t.CanvasHeight
	if w <= 0 {
		w = DefaultCanvasWidth
	}
	if h <= 0 {
		h = DefaultCanvasHeight
	}
	return w, h
}

// FieldByID returns the field with the given id, or nil.
func (t *Template) FieldByID(id string) *Field {
	for i := range t.Fields {
		if t.Fields[i].ID == id {
			return &t.Fields[i]
		}
	}
	return nil
}

// Email is the per-run email template. Subject and body may contain
// {column} placeholders substituted per row.
type Email struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
