package formatter

import (
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/feedbridge/internal/models"
	"github.com/desertthunder/feedbridge/internal/services"
)

func TestBodies(t *testing.T) {
	entry := services.Entry{
		ID:        9,
		Text:      "hello",
		Author:    services.Author{Handle: "bob", Name: "Bob"},
		CreatedAt: time.Now(),
		Source:    `<a href="http://example.org" rel="nofollow">Tweet &amp; Go</a>`,
	}

	t.Run("FormatEntry", func(t *testing.T) {
		got := FormatEntry("twitter", entry)
		want := "hello\n[@twitter:bob:9 - from Tweet & Go]"
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("FormatEntry without source", func(t *testing.T) {
		e := entry
		e.Source = ""
		got := FormatEntry("twitter", e)
		if got != "hello\n[@twitter:bob:9]" {
			t.Errorf("unexpected body %q", got)
		}
	})

	t.Run("FormatDirect", func(t *testing.T) {
		dm := services.DirectMessage{ID: 4, Text: "psst", Sender: services.Author{Handle: "dave"}}
		got := FormatDirect("identica", dm)
		if got != "psst\n[@identica:dave:4]" {
			t.Errorf("unexpected body %q", got)
		}
	})

	t.Run("Nick", func(t *testing.T) {
		if got := Nick(services.Author{Handle: "bob", Name: "Bob B"}, "twitter"); got != "Bob B/twitter" {
			t.Errorf("unexpected nick %q", got)
		}
		if got := Nick(services.Author{Handle: "bob"}, "twitter"); got != "bob/twitter" {
			t.Errorf("expected handle fallback, got %q", got)
		}
	})

	t.Run("Notices", func(t *testing.T) {
		if got := HandledNotice([]string{"twitter", "identica"}); got != "Message was handled by twitter, identica" {
			t.Errorf("unexpected notice %q", got)
		}
		if got := ErrorNotice("twitter", errors.New("over capacity")); got != "twitter: over capacity" {
			t.Errorf("unexpected notice %q", got)
		}
	})
}

func TestStripTags(t *testing.T) {
	tc := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "web", want: "web"},
		{in: `<a href="x">Tweetie</a>`, want: "Tweetie"},
		{in: "<b>bold</b>  and\n <i>italic</i>", want: "bold and italic"},
		{in: "Fish &amp; Chips", want: "Fish & Chips"},
	}

	for _, tt := range tc {
		if got := StripTags(tt.in); got != tt.want {
			t.Errorf("StripTags(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestExporters(t *testing.T) {
	accounts := []*models.Account{
		{Sequence: 1, JID: "alice@example.org", ServiceName: "twitter", Scheme: "oauth2", State: "9:3", Key: "k", Secret: "s"},
		{Sequence: 2, JID: "bob@example.org", ServiceName: "identica", Scheme: "basic", State: "garbage"},
	}

	t.Run("ExportAccountsCSV", func(t *testing.T) {
		data, err := ExportAccountsCSV(accounts)
		if err != nil {
			t.Fatalf("failed to export CSV: %v", err)
		}

		records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		if err != nil {
			t.Fatalf("failed to parse CSV: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("expected header plus 2 rows, got %d", len(records))
		}
		if records[1][4] != "9:3" || records[1][6] != "true" {
			t.Errorf("unexpected first row %v", records[1])
		}
		if records[2][4] != "0:0" || records[2][6] != "false" {
			t.Errorf("malformed cursor should export as initial, got %v", records[2])
		}
		if strings.Contains(string(data), ",k,") {
			t.Error("credentials must not be exported")
		}
	})

	t.Run("ExportAccountsText", func(t *testing.T) {
		out := string(ExportAccountsText(accounts))
		if !strings.Contains(out, "#1 alice@example.org on twitter (oauth2) cursor=9:3 linked") {
			t.Errorf("unexpected output %q", out)
		}
		if !strings.Contains(out, "unlinked") {
			t.Errorf("expected unlinked marker, got %q", out)
		}
	})
}
