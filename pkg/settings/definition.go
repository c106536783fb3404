package settings

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"unicode/utf8"
)

var ErrValidation = errors.New("setting validation failed")

// Validation holds the rules a value must satisfy. Zero fields are unchecked.
type Validation struct {
	Required  bool     `json:"required,omitempty" yaml:"required"`
	Regex     string   `json:"regex,omitempty" yaml:"regex"`
	Min       *float64 `json:"min,omitempty" yaml:"min"`
	Max       *float64 `json:"max,omitempty" yaml:"max"`
	MinLength int      `json:"min_length,omitempty" yaml:"min_length"`
	MaxLength int      `json:"max_length,omitempty" yaml:"max_length"`
	Allowed   []string `json:"allowed,omitempty" yaml:"allowed"`
}

func (v Validation) Equal(o Validation) bool {
	return v.Required == o.Required &&
		v.Regex == o.Regex &&
		floatPtrEqual(v.Min, o.Min) &&
		floatPtrEqual(v.Max, o.Max) &&
		v.MinLength == o.MinLength &&
		v.MaxLength == o.MaxLength &&
		slices.Equal(v.Allowed, o.Allowed)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Definition declares one setting of a client schema.
type Definition struct {
	Name         string     `json:"name"`
	Kind         Kind       `json:"kind"`
	Default      Value      `json:"default"`
	Validation   Validation `json:"validation"`
	Secret       bool       `json:"secret,omitempty"`
	Group        string     `json:"group,omitempty"`
	Description  string     `json:"description,omitempty"`
	DisplayOrder int        `json:"display_order"`
}

// StructurallyEqual compares the fields that decide how a value is stored and
// checked: kind, default, validation, secrecy and grouping.
func (d Definition) StructurallyEqual(o Definition) bool {
	return d.Name == o.Name &&
		d.Kind == o.Kind &&
		d.Default.Equal(o.Default) &&
		d.Validation.Equal(o.Validation) &&
		d.Secret == o.Secret &&
		d.Group == o.Group
}

// MetadataEqual compares display-only fields.
func (d Definition) MetadataEqual(o Definition) bool {
	return d.Description == o.Description && d.DisplayOrder == o.DisplayOrder
}

// Check validates the definition itself, including its default.
func (d Definition) Check() error {
	if d.Name == "" {
		return fmt.Errorf("%w: setting name is empty", ErrValidation)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: setting %q has unknown kind %q", ErrValidation, d.Name, d.Kind)
	}
	if d.Kind == KindEnum && len(d.Validation.Allowed) == 0 {
		return fmt.Errorf("%w: enum setting %q declares no allowed values", ErrValidation, d.Name)
	}
	if d.Validation.Regex != "" {
		if _, err := regexp.Compile(d.Validation.Regex); err != nil {
			return fmt.Errorf("%w: setting %q has invalid regex: %v", ErrValidation, d.Name, err)
		}
	}
	if !d.Default.IsZero() {
		if d.Default.Kind() != d.Kind {
			return fmt.Errorf("%w: setting %q default is %s, want %s", ErrValidation, d.Name, d.Default.Kind(), d.Kind)
		}
		if err := d.Validate(d.Default); err != nil {
			return fmt.Errorf("default: %w", err)
		}
	}
	return nil
}

// Validate checks a value against the definition's kind and rules.
func (d Definition) Validate(v Value) error {
	rules := d.Validation
	if v.IsZero() {
		if rules.Required {
			return fmt.Errorf("%w: %s is required", ErrValidation, d.Name)
		}
		return nil
	}
	if v.Kind() != d.Kind {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrValidation, d.Name, d.Kind, v.Kind())
	}

	if rules.Min != nil || rules.Max != nil {
		if n, ok := v.AsFloat(); ok {
			if rules.Min != nil && n < *rules.Min {
				return fmt.Errorf("%w: %s must be >= %v", ErrValidation, d.Name, *rules.Min)
			}
			if rules.Max != nil && n > *rules.Max {
				return fmt.Errorf("%w: %s must be <= %v", ErrValidation, d.Name, *rules.Max)
			}
		}
	}

	switch d.Kind {
	case KindString, KindEnum:
		s, _ := v.AsString()
		if err := d.checkLength(utf8.RuneCountInString(s)); err != nil {
			return err
		}
		if err := d.checkAllowed(s); err != nil {
			return err
		}
		if err := d.checkRegex(s); err != nil {
			return err
		}
	case KindStringList:
		items, _ := v.AsStringList()
		if err := d.checkLength(len(items)); err != nil {
			return err
		}
		for _, item := range items {
			if err := d.checkAllowed(item); err != nil {
				return err
			}
			if err := d.checkRegex(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d Definition) checkLength(n int) error {
	if d.Validation.MinLength > 0 && n < d.Validation.MinLength {
		return fmt.Errorf("%w: %s is shorter than %d", ErrValidation, d.Name, d.Validation.MinLength)
	}
	if d.Validation.MaxLength > 0 && n > d.Validation.MaxLength {
		return fmt.Errorf("%w: %s is longer than %d", ErrValidation, d.Name, d.Validation.MaxLength)
	}
	return nil
}

func (d Definition) checkAllowed(s string) error {
	if len(d.Validation.Allowed) > 0 && !slices.Contains(d.Validation.Allowed, s) {
		return fmt.Errorf("%w: %s must be one of %v", ErrValidation, d.Name, d.Validation.Allowed)
	}
	return nil
}

func (d Definition) checkRegex(s string) error {
	if d.Validation.Regex == "" {
		return nil
	}
	re, err := regexp.Compile(d.Validation.Regex)
	if err != nil {
		return fmt.Errorf("%w: %s has invalid regex", ErrValidation, d.Name)
	}
	if !re.MatchString(s) {
		return fmt.Errorf("%w: %s does not match %s", ErrValidation, d.Name, d.Validation.Regex)
	}
	return nil
}
