// Package export writes conversation transcripts for record-keeping:
// a spreadsheet for the back office and a standalone HTML page with
// message text rendered from markdown.
package export

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"izajadmin/internal/content"
	"izajadmin/internal/models"

	"github.com/xuri/excelize/v2"
)

const timeLayout = "2006-01-02 15:04:05"

// XLSX writes the transcript as a one-sheet spreadsheet: a header block
// describing the conversation, then one row per message.
func XLSX(w io.Writer, conv models.Conversation, msgs []models.Message) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Sheet1"
	header := [][]any{
		{"Room", conv.RoomID},
		{"Customer", conv.CustomerName},
		{"Email", conv.CustomerEmail},
		{"Product", conv.ProductName},
		{"Exported", time.Now().Format(timeLayout)},
		{},
		{"Time", "Sender", "Message"},
	}
	row := 1
	for _, cells := range header {
		for col, v := range cells {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
		row++
	}

	for _, msg := range msgs {
		values := []any{msg.CreatedAt.Format(timeLayout), string(msg.Sender), msg.Text}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
		row++
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return nil
}

var htmlTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Conversation {{.Conv.RoomID}}</title></head>
<body>
<h1>Conversation {{.Conv.RoomID}}</h1>
<p>{{.Conv.CustomerName}} {{if .Conv.CustomerEmail}}&lt;{{.Conv.CustomerEmail}}&gt;{{end}}</p>
{{range .Entries}}<div class="msg msg-{{.Sender}}">
<span class="time">{{.Time}}</span> <span class="sender">{{.Sender}}</span>
<div class="body">{{.Body}}</div>
</div>
{{end}}</body>
</html>
`))

type htmlEntry struct {
	Time   string
	Sender string
	Body   template.HTML
}

// HTML writes the transcript as a self-contained page. Message text is
// rendered as markdown and sanitized before embedding.
func HTML(w io.Writer, conv models.Conversation, msgs []models.Message) error {
	entries := make([]htmlEntry, 0, len(msgs))
	for _, msg := range msgs {
		body, err := content.RenderMarkdown(msg.Text)
		if err != nil {
			return fmt.Errorf("failed to render message %s: %w", msg.ID, err)
		}
		entries = append(entries, htmlEntry{
			Time:   msg.CreatedAt.Format(timeLayout),
			Sender: string(msg.Sender),
			Body:   template.HTML(body),
		})
	}

	return htmlTemplate.Execute(w, struct {
		Conv    models.Conversation
		Entries []htmlEntry
	}{conv, entries})
}
