package models

import "testing"

func TestCursor(t *testing.T) {
	t.Run("ParseCursor", func(t *testing.T) {
		tc := []struct {
			state string
			want  Cursor
		}{
			{state: "0:0", want: Cursor{}},
			{state: "9:0", want: Cursor{Timeline: 9}},
			{state: "120:45", want: Cursor{Timeline: 120, Direct: 45}},
			{state: "", want: InitialCursor},
			{state: "12", want: InitialCursor},
			{state: "1:2:3", want: InitialCursor},
			{state: "a:b", want: InitialCursor},
			{state: "-4:2", want: InitialCursor},
		}

		for _, tt := range tc {
			t.Run(tt.state, func(t *testing.T) {
				if got := ParseCursor(tt.state); got != tt.want {
					t.Errorf("ParseCursor(%q) = %+v, want %+v", tt.state, got, tt.want)
				}
			})
		}
	})

	t.Run("String round trips", func(t *testing.T) {
		c := Cursor{Timeline: 1234567890123, Direct: 42}
		if got := ParseCursor(c.String()); got != c {
			t.Errorf("round trip mismatch: %+v != %+v", got, c)
		}
		if InitialCursor.String() != "0:0" {
			t.Errorf("initial cursor should format as 0:0, got %s", InitialCursor.String())
		}
	})

	t.Run("Advance never regresses", func(t *testing.T) {
		c := Cursor{Timeline: 10, Direct: 5}

		next := c.Advance(3, 8)
		if next.Timeline != 10 || next.Direct != 8 {
			t.Errorf("expected {10 8}, got %+v", next)
		}

		next = next.Advance(0, 0)
		if next.Timeline != 10 || next.Direct != 8 {
			t.Errorf("advancing with zeros changed the cursor: %+v", next)
		}
	})

	t.Run("IsInitial", func(t *testing.T) {
		if !ParseCursor("0:0").IsInitial() {
			t.Error("0:0 should be initial")
		}
		if ParseCursor("1:0").IsInitial() {
			t.Error("1:0 should not be initial")
		}
	})
}

func TestModels(t *testing.T) {
	t.Run("NewAccount starts without credentials", func(t *testing.T) {
		a := NewAccount("u", "s")
		if a.HasCredentials() {
			t.Error("new account should not have credentials")
		}
		if a.State != "0:0" {
			t.Errorf("expected initial state 0:0, got %s", a.State)
		}
		if err := a.Validate(); err != nil {
			t.Errorf("expected valid account, got %v", err)
		}

		a.Key = "k"
		if a.HasCredentials() {
			t.Error("account with only a key should not have credentials")
		}
		a.Secret = "s"
		if !a.HasCredentials() {
			t.Error("account with key and secret should have credentials")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		invalid := []Model{
			NewUser(" "),
			NewAccountType("", "tag"),
			NewService("svc", ""),
			NewAccount("", "s"),
		}
		for _, m := range invalid {
			if err := m.Validate(); err == nil {
				t.Errorf("expected %T to be invalid", m)
			}
		}
	})
}
