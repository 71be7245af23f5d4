// Package prompt maps each query type to its system prompt and requirements
// and renders the user message around the retrieved context.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"nexqa/internal/domain"
)

//go:embed templates/*.txt
var templates embed.FS

// TestCaseColumns are the JIRA import columns of generated test cases.
var TestCaseColumns = []string{"S.no", "Summary", "Description", "Preconditions", "Step Summary", "Expected Results"}

// RiskColumns are the columns of a risk assessment table.
var RiskColumns = []string{"Risk Description", "Category", "Impact", "Likelihood", "Mitigation Strategy"}

type builder struct {
	system       string
	requirements string
	columns      []string
}

var builders = [domain.NumQueryTypes]builder{
	domain.QueryQA: {
		system:       "qa.txt",
		requirements: "Provide a comprehensive answer based on the context.",
	},
	domain.QuerySummary: {
		system:       "qa.txt",
		requirements: "Summarize the context in concise bullet points or short paragraphs.",
	},
	domain.QueryTestCase: {
		system:       "test_case.txt",
		requirements: "Write the test cases as a Markdown table with the columns listed above.",
		columns:      TestCaseColumns,
	},
	domain.QueryTestCaseExcel: {
		system:       "test_case.txt",
		requirements: "Write the test cases as a Markdown table that imports cleanly into Excel: no merged cells and no line breaks inside cells.",
		columns:      TestCaseColumns,
	},
	domain.QueryTestStrategy: {
		system:       "test_strategy.txt",
		requirements: "Write the test strategy with the sections listed above.",
	},
	domain.QueryRisk: {
		system:       "risk.txt",
		requirements: "Write the risk assessment as a Markdown table with the columns listed above.",
		columns:      RiskColumns,
	},
	domain.QueryValidate: {
		system:       "validate.txt",
		requirements: "List only the missing test cases in the table, then the improvements and the coverage assessment.",
		columns:      TestCaseColumns,
	},
	domain.QueryAutomation: {
		system:       "automation.txt",
		requirements: "Return a single runnable automation script.",
	},
}

// Data is what templates render with.
type Data struct {
	Query        string
	Context      string
	Requirements string
	Tabular      bool
	Columns      []string
}

// Router renders prompts for every query type.
type Router struct {
	tmpl *template.Template
}

// NewRouter parses the embedded templates and checks that every query type
// has a builder whose templates exist.
func NewRouter() (*Router, error) {
	tmpl, err := template.New("prompt").ParseFS(templates, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if tmpl.Lookup("user.txt") == nil {
		return nil, fmt.Errorf("user template missing")
	}

	for _, qt := range domain.AllQueryTypes() {
		b := builders[qt]
		if b.system == "" || b.requirements == "" {
			return nil, fmt.Errorf("no prompt builder for query type %s", qt)
		}
		if tmpl.Lookup(b.system) == nil {
			return nil, fmt.Errorf("template %s for query type %s not found", b.system, qt)
		}
		if qt.Tabular() && len(b.columns) == 0 {
			return nil, fmt.Errorf("query type %s produces a table but declares no columns", qt)
		}
	}

	return &Router{tmpl: tmpl}, nil
}

// Route builds the system and user messages for qt.
func (r *Router) Route(qt domain.QueryType, query, context string) (domain.PromptContext, error) {
	if !qt.Valid() {
		return domain.PromptContext{}, domain.Errorf(domain.KindValidation, "route", "unknown query type %d", int(qt))
	}
	b := builders[qt]
	data := Data{
		Query:        strings.TrimSpace(query),
		Context:      context,
		Requirements: b.requirements,
		Tabular:      qt.Tabular(),
		Columns:      b.columns,
	}

	system, err := r.render(b.system, data)
	if err != nil {
		return domain.PromptContext{}, err
	}
	user, err := r.render("user.txt", data)
	if err != nil {
		return domain.PromptContext{}, err
	}

	return domain.PromptContext{
		Type:    qt,
		System:  system,
		User:    user,
		Context: context,
	}, nil
}

func (r *Router) render(name string, data Data) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
