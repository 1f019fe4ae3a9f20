//go:build linux

package goble

import "testing"

func TestHCIIndex(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"hci0", 0, false},
		{"hci1", 1, false},
		{"hci12", 12, false},
		{"wlan0", 0, true},
	}
	for _, c := range cases {
		got, err := hciIndex(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("hciIndex(%q): expected error, got nil", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("hciIndex(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("hciIndex(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
