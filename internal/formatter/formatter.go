// package formatter renders feed activity as chat bodies and store rows for export
package formatter

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/desertthunder/feedbridge/internal/models"
	"github.com/desertthunder/feedbridge/internal/services"
	"golang.org/x/net/html"
)

// Sigil starts every reply marker and every addressed inbound command.
const Sigil = "@"

// FormatEntry renders a timeline entry as `text\n[@tag:handle:id - from source]`.
//
// The source client has its markup stripped; the "- from" part is left out when it is empty.
func FormatEntry(tag string, e services.Entry) string {
	marker := fmt.Sprintf("%s%s:%s:%d", Sigil, tag, e.Author.Handle, e.ID)
	if source := StripTags(e.Source); source != "" {
		marker += " - from " + source
	}
	return e.Text + "\n[" + marker + "]"
}

// FormatDirect renders a direct message as `text\n[@tag:handle:id]`.
func FormatDirect(tag string, dm services.DirectMessage) string {
	return fmt.Sprintf("%s\n[%s%s:%s:%d]", dm.Text, Sigil, tag, dm.Sender.Handle, dm.ID)
}

// Nick is the room display identity of a feed author: `name/tag`.
// The handle stands in for an empty display name.
func Nick(author services.Author, tag string) string {
	name := strings.TrimSpace(author.Name)
	if name == "" {
		name = author.Handle
	}
	return name + "/" + tag
}

// HandledNotice lists the services that handled a room message.
func HandledNotice(tags []string) string {
	return "Message was handled by " + strings.Join(tags, ", ")
}

// ErrorNotice is the room-visible form of a failed feed call.
func ErrorNotice(tag string, err error) string {
	return fmt.Sprintf("%s: %v", tag, err)
}

// StripTags returns the text content of an HTML fragment with entities decoded and whitespace collapsed.
func StripTags(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}

	var buf strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if !errors.Is(z.Err(), io.EOF) {
				return strings.Join(strings.Fields(fragment), " ")
			}
			break
		}
		if tt == html.TextToken {
			buf.Write(z.Text())
		}
	}
	return strings.Join(strings.Fields(buf.String()), " ")
}

// ExportAccountsCSV converts accounts to CSV with columns: Sequence, JID, Service, Scheme, Cursor, Status, Linked.
//
// Credentials are never exported; Linked reports whether both halves are set.
func ExportAccountsCSV(accounts []*models.Account) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Sequence", "JID", "Service", "Scheme", "Cursor", "Status", "Linked"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, a := range accounts {
		record := []string{
			strconv.Itoa(a.Sequence),
			a.JID,
			a.ServiceName,
			a.Scheme,
			a.Cursor().String(),
			a.Status,
			strconv.FormatBool(a.HasCredentials()),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportAccountsText renders one account per line for terminal output.
func ExportAccountsText(accounts []*models.Account) []byte {
	var buf bytes.Buffer
	for _, a := range accounts {
		linked := "unlinked"
		if a.HasCredentials() {
			linked = "linked"
		}
		buf.WriteString(fmt.Sprintf("#%d %s on %s (%s) cursor=%s %s\n", a.Sequence, a.JID, a.ServiceName, a.Scheme, a.Cursor(), linked))
	}
	return buf.Bytes()
}
