package shell

import (
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"

	"github.com/xeptore/albumshelf/album"
	"github.com/xeptore/albumshelf/iterutil"
	"github.com/xeptore/albumshelf/mathutil"
)

// RenderPage writes the page-th (one based) page of records as a table. It
// returns the total number of pages.
func RenderPage(w io.Writer, records []album.Record, page, pageSize int, current int) int {
	pages := max(mathutil.DivCeil(len(records), pageSize), 1)
	page = mathutil.Clamp(page, 1, pages)
	offset := (page - 1) * pageSize

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header())
	t.AppendRows(
		iterutil.Map(iterutil.Page(records, page-1, pageSize), func(i int, r album.Record) table.Row {
			index := offset + i
			_, values := r.TableRepresentation()
			marker := lo.Ternary(index == current, "▶", "")

			return append(table.Row{marker, index}, lo.ToAnySlice(values)...)
		}),
	)
	t.AppendFooter(table.Row{"", "", "Page " + strconv.Itoa(page) + "/" + strconv.Itoa(pages), "", "", strconv.Itoa(len(records)) + " albums"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignCenter, Colors: text.Colors{text.FgGreen}}, //nolint:exhaustruct
		{Number: 2, Align: text.AlignRight},                                     //nolint:exhaustruct
	})
	t.Render()

	return pages
}

func header() table.Row {
	titles, _ := album.Record{}.TableRepresentation() //nolint:exhaustruct
	return append(table.Row{"", "#"}, lo.ToAnySlice(titles)...)
}
