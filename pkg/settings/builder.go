package settings

import (
	"time"
)

// SchemaBuilder assembles a Schema from explicit declarations.
//
//	b := settings.NewSchemaBuilder()
//	b.String("db.host", "localhost").Group("database").Required()
//	b.Int("db.port", 5432).Range(1, 65535)
//	schema, err := b.Build()
type SchemaBuilder struct {
	defs []*DefinitionBuilder
}

func NewSchemaBuilder() *SchemaBuilder {
	return &SchemaBuilder{}
}

// DefinitionBuilder refines one declared setting.
type DefinitionBuilder struct {
	def Definition
}

func (b *SchemaBuilder) add(name string, kind Kind, def Value) *DefinitionBuilder {
	db := &DefinitionBuilder{def: Definition{
		Name:         name,
		Kind:         kind,
		Default:      def,
		DisplayOrder: len(b.defs),
	}}
	b.defs = append(b.defs, db)
	return db
}

func (b *SchemaBuilder) String(name, def string) *DefinitionBuilder {
	return b.add(name, KindString, StringValue(def))
}

func (b *SchemaBuilder) Int(name string, def int64) *DefinitionBuilder {
	return b.add(name, KindInt, IntValue(def))
}

func (b *SchemaBuilder) Float(name string, def float64) *DefinitionBuilder {
	return b.add(name, KindFloat, FloatValue(def))
}

func (b *SchemaBuilder) Bool(name string, def bool) *DefinitionBuilder {
	return b.add(name, KindBool, BoolValue(def))
}

func (b *SchemaBuilder) DateTime(name string, def time.Time) *DefinitionBuilder {
	return b.add(name, KindDateTime, DateTimeValue(def))
}

func (b *SchemaBuilder) Duration(name string, def time.Duration) *DefinitionBuilder {
	return b.add(name, KindDuration, DurationValue(def))
}

func (b *SchemaBuilder) StringList(name string, def []string) *DefinitionBuilder {
	return b.add(name, KindStringList, StringListValue(def))
}

// JSON declares a free-form JSON setting. An invalid default surfaces from Build.
func (b *SchemaBuilder) JSON(name, def string) *DefinitionBuilder {
	v, err := Parse(KindJSON, def)
	db := b.add(name, KindJSON, v)
	if err != nil {
		db.def.Default = Value{kind: KindString, v: def}
	}
	return db
}

func (b *SchemaBuilder) Enum(name, def string, allowed ...string) *DefinitionBuilder {
	db := b.add(name, KindEnum, EnumValue(def))
	db.def.Validation.Allowed = allowed
	return db
}

// Optional declares a setting with no default.
func (b *SchemaBuilder) Optional(name string, kind Kind) *DefinitionBuilder {
	return b.add(name, kind, Value{})
}

func (b *SchemaBuilder) Build() (Schema, error) {
	schema := make(Schema, len(b.defs))
	for i, db := range b.defs {
		schema[i] = db.def
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

func (d *DefinitionBuilder) Describe(text string) *DefinitionBuilder {
	d.def.Description = text
	return d
}

func (d *DefinitionBuilder) Group(group string) *DefinitionBuilder {
	d.def.Group = group
	return d
}

func (d *DefinitionBuilder) Secret() *DefinitionBuilder {
	d.def.Secret = true
	return d
}

func (d *DefinitionBuilder) Required() *DefinitionBuilder {
	d.def.Validation.Required = true
	return d
}

func (d *DefinitionBuilder) Range(minValue, maxValue float64) *DefinitionBuilder {
	d.def.Validation.Min = &minValue
	d.def.Validation.Max = &maxValue
	return d
}

func (d *DefinitionBuilder) Length(minLen, maxLen int) *DefinitionBuilder {
	d.def.Validation.MinLength = minLen
	d.def.Validation.MaxLength = maxLen
	return d
}

func (d *DefinitionBuilder) Pattern(regex string) *DefinitionBuilder {
	d.def.Validation.Regex = regex
	return d
}

func (d *DefinitionBuilder) Allowed(values ...string) *DefinitionBuilder {
	d.def.Validation.Allowed = values
	return d
}

func (d *DefinitionBuilder) Order(order int) *DefinitionBuilder {
	d.def.DisplayOrder = order
	return d
}
