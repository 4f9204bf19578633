package version

import (
	"strings"
	"testing"
)

func TestString_ContainsVersionAndBuildTime(t *testing.T) {
	t.Parallel()

	s := String()
	if !strings.Contains(s, Version) {
		t.Errorf("String() = %q; missing version %q", s, Version)
	}
	if !strings.Contains(s, BuildTime) {
		t.Errorf("String() = %q; missing build time %q", s, BuildTime)
	}
	if !strings.HasPrefix(s, "chatrelay version ") {
		t.Errorf("String() = %q; want chatrelay prefix", s)
	}
}
