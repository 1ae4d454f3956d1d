package pipeline

const analyzeSystemPrompt = `You analyze spreadsheet worksheets and identify the logical tables they contain. A worksheet may hold zero, one, or several distinct tabular regions, possibly separated by titles, totals, or blank rows. For each table report the header row index, the first data row index, any non-data rows to skip (subtotals, section headers), whether the layout is transposed (fields as rows), and every column with its name, type (text, integer, float, boolean, date), and whether it contains blanks. Use zero-based row indexes. Report only what the samples support.`

const designSystemPrompt = `You design a relational target schema for data extracted from spreadsheets. Given the logical tables found in each worksheet, produce an extraction plan: one output table per logical table worth keeping, with a short snake_case name, typed columns mapping each source column to a snake_case output name (types: text, integer, float, boolean, date), rows to skip, an estimated row count, the source file and sheet it comes from, and whether the source layout is transposed (carry the analysis transpose flag through unchanged). Merge obviously duplicated tables, drop empty ones, and record any foreign-key-like relationships between output tables. Supported column transforms: trim, upper, lower, strip_currency. Include a short title and description for the published catalog.`

const designRevisionPreamble = `A previous extraction from this plan failed validation. Address these defects in the redesign:`

// analyzeSchema is the forced-tool JSON schema for one sheet's analysis.
func analyzeSchema() (map[string]any, []string) {
	column := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string"},
			"type":     map[string]any{"type": "string", "enum": []string{"text", "integer", "float", "boolean", "date"}},
			"nullable": map[string]any{"type": "boolean"},
		},
		"required": []string{"name", "type", "nullable"},
	}
	table := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"suggested_name": map[string]any{"type": "string"},
			"header_row":     map[string]any{"type": "integer"},
			"data_start_row": map[string]any{"type": "integer"},
			"skip_rows":      map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			"transpose":      map[string]any{"type": "boolean"},
			"columns":        map[string]any{"type": "array", "items": column},
		},
		"required": []string{"suggested_name", "header_row", "data_start_row", "columns"},
	}
	props := map[string]any{
		"tables": map[string]any{"type": "array", "items": table},
	}
	return props, []string{"tables"}
}

// designSchema is the forced-tool JSON schema for the extraction plan.
func designSchema() (map[string]any, []string) {
	column := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source_name": map[string]any{"type": "string"},
			"output_name": map[string]any{"type": "string"},
			"type":        map[string]any{"type": "string", "enum": []string{"text", "integer", "float", "boolean", "date"}},
			"nullable":    map[string]any{"type": "boolean"},
			"transform":   map[string]any{"type": "string"},
		},
		"required": []string{"source_name", "output_name", "type", "nullable"},
	}
	table := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":             map[string]any{"type": "string"},
			"source_file_id":   map[string]any{"type": "string"},
			"source_file_name": map[string]any{"type": "string"},
			"source_sheet":     map[string]any{"type": "string"},
			"columns":          map[string]any{"type": "array", "items": column},
			"skip_rows":        map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			"header_row":       map[string]any{"type": "integer"},
			"data_start_row":   map[string]any{"type": "integer"},
			"transpose":        map[string]any{"type": "boolean"},
			"estimated_rows":   map[string]any{"type": "integer"},
		},
		"required": []string{"name", "source_file_name", "source_sheet", "columns", "header_row", "data_start_row", "estimated_rows"},
	}
	relationship := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"from_table":  map[string]any{"type": "string"},
			"from_column": map[string]any{"type": "string"},
			"to_table":    map[string]any{"type": "string"},
			"to_column":   map[string]any{"type": "string"},
		},
		"required": []string{"from_table", "from_column", "to_table", "to_column"},
	}
	props := map[string]any{
		"tables":        map[string]any{"type": "array", "items": table},
		"relationships": map[string]any{"type": "array", "items": relationship},
		"title":         map[string]any{"type": "string"},
		"description":   map[string]any{"type": "string"},
	}
	return props, []string{"tables"}
}
