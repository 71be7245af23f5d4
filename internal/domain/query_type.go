package domain

import (
	"strings"
)

// QueryType selects the prompt template and output shape of an answer.
type QueryType int

const (
	QueryQA QueryType = iota
	QuerySummary
	QueryTestCase
	QueryTestCaseExcel
	QueryTestStrategy
	QueryRisk
	QueryValidate
	QueryAutomation

	// NumQueryTypes is the size of the enumeration; keep it last.
	NumQueryTypes
)

var queryTypeNames = [NumQueryTypes]string{
	QueryQA:            "qa",
	QuerySummary:       "summary",
	QueryTestCase:      "test_case",
	QueryTestCaseExcel: "testcase_excel",
	QueryTestStrategy:  "test_strategy",
	QueryRisk:          "risk",
	QueryValidate:      "validate",
	QueryAutomation:    "automation",
}

var queryTypeAliases = map[string]QueryType{
	"ask":             QueryQA,
	"question":        QueryQA,
	"answer":          QueryQA,
	"general":         QueryQA,
	"summarize":       QuerySummary,
	"overview":        QuerySummary,
	"testcase":        QueryTestCase,
	"test_cases":      QueryTestCase,
	"tc":              QueryTestCase,
	"excel":           QueryTestCaseExcel,
	"xlsx":            QueryTestCaseExcel,
	"strategy":        QueryTestStrategy,
	"test_plan":       QueryTestStrategy,
	"risk_assessment": QueryRisk,
	"risk_analysis":   QueryRisk,
	"validate_test":   QueryValidate,
	"check_test":      QueryValidate,
	"review_test":     QueryValidate,
	"script":          QueryAutomation,
	"codegen":         QueryAutomation,
}

func (t QueryType) String() string {
	if t < 0 || t >= NumQueryTypes {
		return "unknown"
	}
	return queryTypeNames[t]
}

// Tabular reports whether answers of this type must be pipe-delimited markdown tables.
func (t QueryType) Tabular() bool {
	switch t {
	case QueryTestCase, QueryTestCaseExcel, QueryValidate, QueryRisk:
		return true
	}
	return false
}

// Valid reports whether t is a member of the enumeration.
func (t QueryType) Valid() bool {
	return t >= 0 && t < NumQueryTypes
}

// AllQueryTypes lists every query type in declaration order.
func AllQueryTypes() []QueryType {
	types := make([]QueryType, 0, NumQueryTypes)
	for t := QueryType(0); t < NumQueryTypes; t++ {
		types = append(types, t)
	}
	return types
}

// ParseQueryType resolves a canonical name or a known alias.
// An empty string resolves to QueryQA.
func ParseQueryType(s string) (QueryType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return QueryQA, nil
	}
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	for t, name := range queryTypeNames {
		if name == key {
			return QueryType(t), nil
		}
	}
	if t, ok := queryTypeAliases[key]; ok {
		return t, nil
	}
	return QueryQA, Errorf(KindValidation, "parse query type", "unknown query type %q", s)
}
