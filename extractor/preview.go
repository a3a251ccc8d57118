package extractor

import (
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// previewConverter is goroutine-safe and shared by every Preview call.
var previewConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(
			table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
		),
	),
)

// Preview renders captured markup as Markdown for operators inspecting what
// the verification page returned. domain resolves relative links.
func Preview(rawHTML, domain string) (string, error) {
	if rawHTML == "" {
		return "", nil
	}
	return previewConverter.ConvertString(rawHTML, converter.WithDomain(domain))
}
