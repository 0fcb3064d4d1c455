package ourutil

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/fatih/color"
	"github.com/juju/errors"
)

func TestSpinner(t *testing.T) {
	color.NoColor = true
	for _, c := range []struct {
		spins int
		err   error
		want  string
	}{
		{0, nil, "done!\n"},
		{3, nil, "\b-\b\\\b|\bdone!\n"},
		{5, errors.Errorf("boom"), "\b-\b\\\b|\b/\b-\bFAILED!\n"},
	} {
		buf := bytes.NewBuffer(nil)
		s := NewSpinner(buf)
		for i := 0; i < c.spins; i++ {
			s.Spin()
		}
		s.Done(c.err)
		if got := buf.String(); got != c.want {
			t.Errorf("%d spins: got %q, want %q", c.spins, got, c.want)
		}
	}
}

func TestFindNamedSubmatches(t *testing.T) {
	re := regexp.MustCompile(`^(?P<chip>[a-z]+)(?P<rev>\d+)$`)
	m := FindNamedSubmatches(re, "t30")
	if m["chip"] != "t" || m["rev"] != "30" {
		t.Errorf("got %v", m)
	}
	if FindNamedSubmatches(re, "T-30") != nil {
		t.Errorf("expected no match")
	}
}
