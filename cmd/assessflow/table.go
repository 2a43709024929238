package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// columnKind controls how a table column is aligned and rendered.
type columnKind int

const (
	colText columnKind = iota
	colNumber
	// colLabel renders snake_case identifiers such as statuses as title-case labels.
	colLabel
)

func renderTable(headers []string, rows [][]string, kinds []columnKind) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(toRow(headers, len(headers)))
	for _, row := range rows {
		tw.AppendRow(toRow(row, len(headers)))
	}

	configs := make([]table.ColumnConfig, len(headers))
	for i := range headers {
		kind := colText
		if i < len(kinds) {
			kind = kinds[i]
		}
		configs[i] = columnConfig(i+1, kind)
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func columnConfig(number int, kind columnKind) table.ColumnConfig {
	cfg := table.ColumnConfig{Number: number, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
	switch kind {
	case colNumber:
		cfg.Align = text.AlignRight
	case colLabel:
		cfg.Transformer = func(val any) string {
			s, _ := val.(string)
			return humanLabel(s)
		}
	}
	return cfg
}

// toRow pads or truncates cells to width.
func toRow(cells []string, width int) table.Row {
	row := make(table.Row, width)
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		} else {
			row[i] = ""
		}
	}
	return row
}
