package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"admission-gateway/middleware/pipeline/domain"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validator aplica um domain.Schema à requisição.
//
// Coleta todas as violações (não para na primeira) e devolve o payload
// normalizado só com os campos declarados.
type Validator struct {
	// UnknownFields é a política padrão para schemas com UnknownInherit.
	// UnknownInherit aqui significa strip.
	UnknownFields domain.UnknownFieldPolicy
}

// Validate aplica o schema. Um body que não pôde ser decodificado é rejeitado
// mesmo sem schema.
func (v Validator) Validate(schema *domain.Schema, r domain.Request) (domain.Payload, error) {
	if r.BodyErr != nil {
		return nil, bodyFailure(r.BodyErr)
	}
	if schema == nil {
		return domain.Payload{}, nil
	}

	policy := schema.UnknownFields
	if policy == domain.UnknownInherit {
		policy = v.UnknownFields
	}

	var body, query []domain.Field
	for _, f := range schema.Fields {
		if f.In == domain.InQuery {
			query = append(query, f)
		} else {
			body = append(body, f)
		}
	}

	payload := domain.Payload{}
	var violations []domain.Violation

	normalized, vs := v.object("", body, r.Body, policy)
	violations = append(violations, vs...)
	for k, val := range normalized {
		payload[k] = val
	}

	for _, f := range query {
		raw, present := queryValue(f, r.Query)
		val, ok, vs := v.field(f.Name, f, raw, present, policy)
		violations = append(violations, vs...)
		if ok {
			payload[f.Name] = val
		}
	}

	if len(violations) > 0 {
		return nil, &domain.Failure{
			Kind:       domain.KindValidationFailed,
			Message:    "request validation failed",
			Violations: violations,
		}
	}
	return payload, nil
}

func bodyFailure(err error) *domain.Failure {
	if errors.Is(err, domain.ErrBodyTooLarge) {
		return &domain.Failure{
			Kind:       domain.KindPayloadTooLarge,
			Message:    "request body exceeds the size limit",
			Violations: []domain.Violation{{Field: "body", Message: "body is too large"}},
			Cause:      err,
		}
	}
	return &domain.Failure{
		Kind:       domain.KindValidationFailed,
		Message:    "request validation failed",
		Violations: []domain.Violation{{Field: "body", Message: "body must be a single valid JSON object"}},
		Cause:      err,
	}
}

func queryValue(f domain.Field, q map[string][]string) (any, bool) {
	vals, ok := q[f.Name]
	if !ok || len(vals) == 0 {
		return nil, false
	}
	if f.Type == domain.TypeArray {
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out, true
	}
	return vals[0], true
}

func (v Validator) object(prefix string, fields []domain.Field, in map[string]any, policy domain.UnknownFieldPolicy) (map[string]any, []domain.Violation) {
	out := make(map[string]any, len(fields))
	var violations []domain.Violation

	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		declared[f.Name] = true
		raw, present := in[f.Name]
		val, ok, vs := v.field(joinPath(prefix, f.Name), f, raw, present, policy)
		violations = append(violations, vs...)
		if ok {
			out[f.Name] = val
		}
	}

	if policy == domain.UnknownReject {
		var unknown []string
		for k := range in {
			if !declared[k] {
				unknown = append(unknown, k)
			}
		}
		sort.Strings(unknown)
		for _, k := range unknown {
			violations = append(violations, domain.Violation{Field: joinPath(prefix, k), Message: "unknown field"})
		}
	}
	return out, violations
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// field devolve (valor normalizado, presente, violações).
func (v Validator) field(path string, f domain.Field, raw any, present bool, policy domain.UnknownFieldPolicy) (any, bool, []domain.Violation) {
	if !present || raw == nil {
		if f.Required {
			return nil, false, []domain.Violation{{Field: path, Message: "field is required"}}
		}
		return nil, false, nil
	}

	val, err := convert(f, raw)
	if err != nil {
		return nil, false, []domain.Violation{{Field: path, Message: err.Error()}}
	}

	if f.Type == domain.TypeObject && len(f.Fields) > 0 {
		nested, vs := v.object(path, f.Fields, val.(map[string]any), policy)
		if len(vs) > 0 {
			return nil, false, vs
		}
		val = nested
	}

	if f.Rules != "" {
		if vs := checkRules(path, val, f.Rules); len(vs) > 0 {
			return nil, false, vs
		}
	}
	return val, true, nil
}

func convert(f domain.Field, raw any) (any, error) {
	switch f.Type {
	case domain.TypeString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return nil, errors.New("must be a string")

	case domain.TypeNumber:
		if n, ok := toFloat(raw); ok {
			return n, nil
		}
		if s, ok := raw.(string); ok && f.Coerce {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
				return n, nil
			}
		}
		return nil, errors.New("must be a number")

	case domain.TypeInteger:
		if n, ok := toFloat(raw); ok && n == math.Trunc(n) && math.Abs(n) <= 1<<53 {
			return int64(n), nil
		}
		if s, ok := raw.(string); ok && f.Coerce {
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return n, nil
			}
		}
		return nil, errors.New("must be an integer")

	case domain.TypeBoolean:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
		if s, ok := raw.(string); ok && f.Coerce {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b, nil
			}
		}
		return nil, errors.New("must be a boolean")

	case domain.TypeObject:
		if m, ok := raw.(map[string]any); ok {
			return m, nil
		}
		return nil, errors.New("must be an object")

	case domain.TypeArray:
		if a, ok := raw.([]any); ok {
			return a, nil
		}
		return nil, errors.New("must be an array")
	}
	return raw, nil
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// checkRules aplica as tags ao valor. O validator entra em panic quando a
// tag não serve para o tipo (ex: min num bool); isso vira violação do campo.
func checkRules(path string, val any, rules string) (out []domain.Violation) {
	defer func() {
		if r := recover(); r != nil {
			out = []domain.Violation{{Field: path, Message: "value type does not support rules " + rules}}
		}
	}()

	err := validate.Var(val, rules)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []domain.Violation{{Field: path, Message: err.Error()}}
	}
	out = make([]domain.Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, domain.Violation{Field: path, Message: ruleMessage(fe)})
	}
	return out
}

// ruleMessage devolve uma mensagem legível para o erro do validator.
func ruleMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "max":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "len":
		return fmt.Sprintf("must have length %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}

// CheckSchema confere um schema vindo de configuração: nomes preenchidos e
// tags de regra conhecidas pelo validator (tag desconhecida gera panic no Var).
func CheckSchema(schema *domain.Schema) (err error) {
	if schema == nil {
		return nil
	}
	return checkFields("", schema.Fields)
}

func checkFields(prefix string, fields []domain.Field) error {
	for _, f := range fields {
		path := joinPath(prefix, f.Name)
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("field %q: empty name", path)
		}
		if f.Rules != "" {
			if err := probeRules(f.Type, f.Rules); err != nil {
				return fmt.Errorf("field %q: %w", path, err)
			}
		}
		if err := checkFields(path, f.Fields); err != nil {
			return err
		}
	}
	return nil
}

// probeRules roda as regras contra o zero do tipo declarado: tag desconhecida
// ou incompatível com o tipo (min num boolean) falha aqui e não na requisição.
// TypeAny é testado contra todos os tipos, porque o cliente escolhe o valor.
func probeRules(typ domain.FieldType, rules string) error {
	samples := []any{zeroOf(typ)}
	if typ == domain.TypeAny {
		samples = []any{"", float64(0), int64(0), false, map[string]any{}, []any{}}
	}
	for _, s := range samples {
		if err := probeRule(s, rules); err != nil {
			return err
		}
	}
	return nil
}

func probeRule(sample any, rules string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid rules %q for %T values: %v", rules, sample, r)
		}
	}()
	_ = validate.Var(sample, rules)
	return nil
}

func zeroOf(typ domain.FieldType) any {
	switch typ {
	case domain.TypeNumber:
		return float64(0)
	case domain.TypeInteger:
		return int64(0)
	case domain.TypeBoolean:
		return false
	case domain.TypeObject:
		return map[string]any{}
	case domain.TypeArray:
		return []any{}
	default:
		return ""
	}
}
