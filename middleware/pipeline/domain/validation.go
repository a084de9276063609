package domain

// FieldType é o tipo esperado de um campo do schema.
type FieldType int

const (
	TypeAny FieldType = iota
	TypeString
	TypeNumber
	TypeInteger
	TypeBoolean
	TypeObject
	TypeArray
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeInteger:
		return "integer"
	case TypeBoolean:
		return "boolean"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	default:
		return "any"
	}
}

// ParseFieldType aceita os nomes usados em arquivos de configuração.
func ParseFieldType(s string) (FieldType, bool) {
	switch s {
	case "", "any":
		return TypeAny, true
	case "string":
		return TypeString, true
	case "number", "float":
		return TypeNumber, true
	case "integer", "int":
		return TypeInteger, true
	case "boolean", "bool":
		return TypeBoolean, true
	case "object":
		return TypeObject, true
	case "array":
		return TypeArray, true
	}
	return TypeAny, false
}

// Location indica de onde o campo é lido.
type Location int

const (
	InBody Location = iota
	InQuery
)

// UnknownFieldPolicy define o que fazer com campos do body fora do schema.
type UnknownFieldPolicy int

const (
	// UnknownInherit usa a política padrão do Validator.
	UnknownInherit UnknownFieldPolicy = iota
	UnknownStrip
	UnknownReject
)

func ParseUnknownFieldPolicy(s string) (UnknownFieldPolicy, bool) {
	switch s {
	case "":
		return UnknownInherit, true
	case "strip":
		return UnknownStrip, true
	case "reject":
		return UnknownReject, true
	}
	return UnknownInherit, false
}

type Field struct {
	Name     string
	In       Location
	Type     FieldType
	Required bool
	// Coerce permite converter strings numéricas/booleanas para o tipo do campo.
	Coerce bool
	// Rules são tags do go-playground/validator aplicadas ao valor normalizado
	// (ex: "min=0,max=150", "email", "oneof=a b").
	Rules string
	// Fields descreve os campos de um TypeObject.
	Fields []Field
}

type Schema struct {
	Fields        []Field
	UnknownFields UnknownFieldPolicy
}

// Payload é o valor normalizado: só campos declarados, já convertidos.
type Payload map[string]any
