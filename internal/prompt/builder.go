// Package prompt renders the semantic context, conversation history, and
// user question into provider-neutral system and user messages.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/askdb/askdb/internal/semantic"
)

const defaultExampleCap = 3

// Turn is one prior exchange rendered into the user message.
type Turn struct {
	Role    string
	Content string
}

// Request is the rendered prompt pair handed to a generation client.
type Request struct {
	System string
	User   string
}

type Builder struct {
	exampleCap int
}

// NewBuilder returns a builder that caps example query patterns at
// exampleCap entries across all tables. Non-positive caps fall back to the
// default.
func NewBuilder(exampleCap int) *Builder {
	if exampleCap <= 0 {
		exampleCap = defaultExampleCap
	}
	return &Builder{exampleCap: exampleCap}
}

// Build renders the prompt. Rendering is deterministic: tables, columns,
// and glossary terms are emitted in sorted order, and glossary terms
// defined by several tables resolve to the lexicographically later table's
// definition.
func (b *Builder) Build(ctx semantic.ConnectionContext, question string, history []Turn) Request {
	parts := []string{
		"You are an expert SQL analyst with deep knowledge of this database.",
		"Generate accurate, efficient SQL queries based on user questions.",
		"Use the semantic context provided to understand business terminology.",
	}

	if ctx.ConnectionName != "" {
		header := fmt.Sprintf("\n## Database: %s", ctx.ConnectionName)
		if ctx.ConnectionType != "" {
			header = fmt.Sprintf("%s (%s)", header, ctx.ConnectionType)
		}
		parts = append(parts, header)
	}

	tableNames := sortedTableNames(ctx)
	if len(tableNames) > 0 {
		parts = append(parts, "\n## Available Tables and Business Context:")
		for _, name := range tableNames {
			table := ctx.Tables[name]
			parts = append(parts, fmt.Sprintf("\n### Table: %s", name))
			if table.Description != "" {
				parts = append(parts, fmt.Sprintf("Purpose: %s", table.Description))
			}
			if len(table.ColumnDescriptions) > 0 {
				parts = append(parts, "Columns:")
				for _, col := range sortedKeys(table.ColumnDescriptions) {
					parts = append(parts, fmt.Sprintf("  - %s: %s", col, table.ColumnDescriptions[col]))
				}
			}
			if len(table.Relationships) > 0 {
				parts = append(parts, "Relationships:")
				for _, rel := range table.Relationships {
					parts = append(parts, fmt.Sprintf("  - %s", rel))
				}
			}
		}
	}

	glossary := mergeGlossary(ctx, tableNames)
	if len(glossary) > 0 {
		parts = append(parts, "\n## Business Glossary:")
		for _, term := range sortedKeys(glossary) {
			parts = append(parts, fmt.Sprintf("  - %s: %s", term, glossary[term]))
		}
	}

	examples := collectExamples(ctx, tableNames, b.exampleCap)
	if len(examples) > 0 {
		parts = append(parts, "\n## Example Query Patterns:")
		for _, example := range examples {
			parts = append(parts, fmt.Sprintf("  - %s", example))
		}
	}

	parts = append(parts,
		"\n## Instructions:",
		"- Use the business context to understand user intent",
		"- Reference the glossary for domain-specific terms",
		"- Generate clean, readable SQL",
		"- Always return valid JSON with sql, explanation, and tables_used fields",
	)

	return Request{
		System: strings.Join(parts, "\n"),
		User:   renderUser(question, history),
	}
}

func renderUser(question string, history []Turn) string {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Previous conversation:\n")
		for _, turn := range history {
			role := "User"
			if turn.Role == "assistant" {
				role = "Assistant"
			}
			sb.WriteString(fmt.Sprintf("%s: %s\n", role, turn.Content))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Generate a SQL query to answer this question: %s\n\n", question))
	sb.WriteString(`Return a JSON object with:
{
    "sql": "the SQL query",
    "explanation": "brief explanation of what the query does",
    "tables_used": ["list", "of", "tables"]
}`)
	return sb.String()
}

// mergeGlossary flattens per-table glossaries. Tables are visited in
// sorted name order so a term defined by several tables takes the later
// table's definition.
func mergeGlossary(ctx semantic.ConnectionContext, tableNames []string) map[string]string {
	merged := map[string]string{}
	for _, name := range tableNames {
		for term, definition := range ctx.Tables[name].Glossary {
			merged[term] = definition
		}
	}
	return merged
}

func collectExamples(ctx semantic.ConnectionContext, tableNames []string, limit int) []string {
	examples := make([]string, 0)
	for _, name := range tableNames {
		examples = append(examples, ctx.Tables[name].ExampleQueries...)
	}
	if len(examples) > limit {
		examples = examples[:limit]
	}
	return examples
}

func sortedTableNames(ctx semantic.ConnectionContext) []string {
	names := make([]string, 0, len(ctx.Tables))
	for name := range ctx.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// EstimateTokens approximates the token count of a rendered prompt for
// trace reporting when the provider omits usage data.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
