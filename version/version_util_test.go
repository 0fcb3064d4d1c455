package version

import "testing"

func TestLooksLikeVersionNumber(t *testing.T) {
	for _, c := range []struct {
		s  string
		ok bool
	}{
		{"1.0", true},
		{"2.17.1", true},
		{"latest", false},
		{"", false},
		{"1.x", false},
	} {
		if got := LooksLikeVersionNumber(c.s); got != c.ok {
			t.Errorf("%q: got %t, want %t", c.s, got, c.ok)
		}
	}
}

func TestDistrBuildId(t *testing.T) {
	parts := GetDistrBuildIDParts("1.2+abc123~bionic1")
	if parts == nil {
		t.Fatalf("no match")
	}
	for k, want := range map[string]string{"version": "1.2", "hash": "abc123", "distr": "bionic"} {
		if got := parts[k]; got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if LooksLikeDistrBuildId("20201010-120000/master@abcdef") {
		t.Errorf("plain build id detected as a distro build")
	}
}
