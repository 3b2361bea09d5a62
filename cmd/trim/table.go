package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"silence-trimmer/internal/interval"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// intervalTable lists intervals with their durations.
func intervalTable(list []interval.Interval) string {
	rows := make([][]string, 0, len(list))
	for i, iv := range list {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			formatSeconds(iv.Start),
			formatSeconds(iv.End),
			formatSeconds(iv.Duration()),
		})
	}
	return renderTable([]string{"#", "Start", "End", "Duration"}, rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight})
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%.3fs", v)
}

func formatDuration(seconds float64) string {
	return time.Duration(seconds * float64(time.Second)).Round(time.Millisecond).String()
}

func formatBitRate(bps int64) string {
	if bps <= 0 {
		return "unknown"
	}
	return humanize.SIWithDigits(float64(bps), 1, "bit/s")
}

func formatSize(bytes int64) string {
	if bytes <= 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(bytes))
}
