// Package viz infers a chart suggestion from a query result's shape and
// renders the configuration the frontend consumes.
package viz

type ChartType string

const (
	ChartTable   ChartType = "table"
	ChartMetric  ChartType = "metric"
	ChartBar     ChartType = "bar"
	ChartLine    ChartType = "line"
	ChartPie     ChartType = "pie"
	ChartScatter ChartType = "scatter"
)

// Suggestion is the advisor's verdict. The decision is positional over
// the result shape; column types are not inspected.
type Suggestion struct {
	Type   ChartType `json:"type"`
	XAxis  string    `json:"x_axis,omitempty"`
	YAxis  string    `json:"y_axis,omitempty"`
	Series string    `json:"series,omitempty"`
	Reason string    `json:"reason"`
}

// Suggest applies a first-match decision table over column count and row
// count.
func Suggest(columns []string, rowCount int) Suggestion {
	if rowCount == 0 {
		return Suggestion{Type: ChartTable, Reason: "No data to visualize"}
	}

	switch {
	case len(columns) == 1:
		return Suggestion{Type: ChartTable, Reason: "Single column data"}
	case len(columns) == 2:
		return Suggestion{
			Type:   ChartBar,
			XAxis:  columns[0],
			YAxis:  columns[1],
			Reason: "Two columns - category and value",
		}
	case len(columns) >= 3:
		return Suggestion{
			Type:   ChartLine,
			XAxis:  columns[0],
			YAxis:  columns[1],
			Series: columns[2],
			Reason: "Multiple columns - time series or grouped data",
		}
	}
	return Suggestion{Type: ChartTable, Reason: "Default to table view"}
}

// Config renders the chart configuration for the frontend. A
// single-column, single-row result upgrades from a table to a metric
// card carrying the value itself.
func Config(s Suggestion, columns []string, rows []map[string]any) map[string]any {
	chartType := s.Type
	if chartType == ChartTable && len(columns) == 1 && len(rows) == 1 {
		chartType = ChartMetric
	}

	options := map[string]any{
		"responsive":          true,
		"maintainAspectRatio": false,
	}
	config := map[string]any{
		"type":    string(chartType),
		"reason":  s.Reason,
		"options": options,
	}

	switch chartType {
	case ChartMetric:
		config["value_column"] = columns[0]
		config["value"] = rows[0][columns[0]]
	case ChartBar, ChartLine:
		config["x_axis"] = s.XAxis
		config["y_axis"] = s.YAxis
		if s.Series != "" {
			config["series"] = s.Series
		}
		options["scales"] = map[string]any{
			"x": map[string]any{"title": map[string]any{"display": true, "text": s.XAxis}},
			"y": map[string]any{"title": map[string]any{"display": true, "text": s.YAxis}},
		}
		if chartType == ChartLine {
			options["elements"] = map[string]any{"line": map[string]any{"tension": 0.4}}
		}
	case ChartPie:
		options["plugins"] = map[string]any{"legend": map[string]any{"position": "right"}}
	}

	config["data"] = rows
	return config
}
