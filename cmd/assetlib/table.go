package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. Versions, sizes, ages and counts are
// right aligned; free-form detail columns wrap at wrap runes.
type column struct {
	title string
	right bool
	wrap  int
}

func textCol(title string) column { return column{title: title} }

func numCol(title string) column { return column{title: title, right: true} }

func detailCol(title string, wrap int) column { return column{title: title, wrap: wrap} }

// emptyCell replaces blank values.
const emptyCell = "-"

func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, c := range columns {
		header[i] = c.title
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if c.right {
			configs[i].Align = text.AlignRight
		}
		if c.wrap > 0 {
			configs[i].WidthMax = c.wrap
			configs[i].WidthMaxEnforcer = text.WrapSoft
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range columns {
			r[i] = emptyCell
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	return tw.Render() + "\n"
}
