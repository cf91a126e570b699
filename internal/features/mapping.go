// Package features maps the reduced inference request onto the trained
// feature schema.
package features

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strconv"
)

// CustomerInput is the eight-field inference request. Fields that are not
// sent decode to zero.
type CustomerInput struct {
	Tenure                    int     `json:"tenure"`
	MonthlyCharges            float64 `json:"MonthlyCharges"`
	TotalCharges              float64 `json:"TotalCharges"`
	ContractOneYear           int     `json:"Contract_One_year"`
	ContractTwoYear           int     `json:"Contract_Two_year"`
	InternetServiceFiberOptic int     `json:"InternetService_Fiber_optic"`
	OnlineSecurityYes         int     `json:"OnlineSecurity_Yes"`
	TechSupportYes            int     `json:"TechSupport_Yes"`
}

var intType = reflect.TypeOf(0)

// UnmarshalJSON decodes the request like encoding/json would, except that the
// integer fields also accept whole-number floats such as 12.0 or 1e2.
func (in *CustomerInput) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}

	type plain CustomerInput
	var raw struct {
		plain
		Tenure                    json.RawMessage `json:"tenure"`
		ContractOneYear           json.RawMessage `json:"Contract_One_year"`
		ContractTwoYear           json.RawMessage `json:"Contract_Two_year"`
		InternetServiceFiberOptic json.RawMessage `json:"InternetService_Fiber_optic"`
		OnlineSecurityYes         json.RawMessage `json:"OnlineSecurity_Yes"`
		TechSupportYes            json.RawMessage `json:"TechSupport_Yes"`
	}
	raw.plain = plain(*in)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ints := []struct {
		field string
		src   json.RawMessage
		dst   *int
	}{
		{"tenure", raw.Tenure, &raw.plain.Tenure},
		{"Contract_One_year", raw.ContractOneYear, &raw.plain.ContractOneYear},
		{"Contract_Two_year", raw.ContractTwoYear, &raw.plain.ContractTwoYear},
		{"InternetService_Fiber_optic", raw.InternetServiceFiberOptic, &raw.plain.InternetServiceFiberOptic},
		{"OnlineSecurity_Yes", raw.OnlineSecurityYes, &raw.plain.OnlineSecurityYes},
		{"TechSupport_Yes", raw.TechSupportYes, &raw.plain.TechSupportYes},
	}
	for _, f := range ints {
		if len(f.src) == 0 || string(f.src) == "null" {
			continue
		}
		v, err := wholeNumber(f.src)
		if err != nil {
			return &json.UnmarshalTypeError{Value: err.Error(), Type: intType, Field: f.field}
		}
		*f.dst = v
	}

	*in = CustomerInput(raw.plain)
	return nil
}

// wholeNumber parses a JSON number with no fractional part. The error text
// names the offending JSON value.
func wholeNumber(src json.RawMessage) (int, error) {
	switch src[0] {
	case '"':
		return 0, errors.New("string")
	case '{':
		return 0, errors.New("object")
	case '[':
		return 0, errors.New("array")
	case 't', 'f':
		return 0, errors.New("bool")
	}
	if n, err := strconv.Atoi(string(src)); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(string(src), 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, errors.New("number " + string(src))
	}
	return int(f), nil
}

// Binding ties one request field to the schema column it populates.
type Binding struct {
	Field  string
	Column string
	Value  func(CustomerInput) float64
}

// FieldMapping is the full request-to-schema table. Three request names
// differ from the one-hot column names, which carry the category's space.
var FieldMapping = []Binding{
	{"tenure", "tenure", func(in CustomerInput) float64 { return float64(in.Tenure) }},
	{"MonthlyCharges", "MonthlyCharges", func(in CustomerInput) float64 { return in.MonthlyCharges }},
	{"TotalCharges", "TotalCharges", func(in CustomerInput) float64 { return in.TotalCharges }},
	{"Contract_One_year", "Contract_One year", func(in CustomerInput) float64 { return float64(in.ContractOneYear) }},
	{"Contract_Two_year", "Contract_Two year", func(in CustomerInput) float64 { return float64(in.ContractTwoYear) }},
	{"InternetService_Fiber_optic", "InternetService_Fiber optic", func(in CustomerInput) float64 { return float64(in.InternetServiceFiberOptic) }},
	{"OnlineSecurity_Yes", "OnlineSecurity_Yes", func(in CustomerInput) float64 { return float64(in.OnlineSecurityYes) }},
	{"TechSupport_Yes", "TechSupport_Yes", func(in CustomerInput) float64 { return float64(in.TechSupportYes) }},
}

// BuildVector lays the request out in schema order. Every schema column the
// request does not cover stays zero. The second return lists request fields
// whose column is missing from the schema; their values are dropped.
func BuildVector(schema []string, in CustomerInput) ([]float64, []string) {
	pos := make(map[string]int, len(schema))
	for i, name := range schema {
		pos[name] = i
	}

	vec := make([]float64, len(schema))
	var unmapped []string
	for _, b := range FieldMapping {
		i, ok := pos[b.Column]
		if !ok {
			unmapped = append(unmapped, b.Field)
			continue
		}
		vec[i] = b.Value(in)
	}
	return vec, unmapped
}
