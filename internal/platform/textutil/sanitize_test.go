package textutil

import (
	"strings"
	"testing"
)

func TestSanitizeFreeText(t *testing.T) {
	cases := map[string]struct {
		input string
		want  string
	}{
		"plain text":        {input: "  handed to carrier  ", want: "handed to carrier"},
		"strips tags":       {input: `<b>urgent</b> <script>alert(1)</script>call first`, want: "urgent call first"},
		"keeps punctuation": {input: "box damaged & resealed", want: "box damaged & resealed"},
		"empty after strip": {input: "<img src=x onerror=alert(1)>", want: ""},
		"keeps vietnamese":  {input: "Giao hàng nhanh", want: "Giao hàng nhanh"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := SanitizeFreeText(tc.input); got != tc.want {
				t.Fatalf("expected %q got %q", tc.want, got)
			}
		})
	}

	long := strings.Repeat("a", maxFreeTextLength+10)
	if got := SanitizeFreeText(long); len(got) != maxFreeTextLength {
		t.Fatalf("expected length %d got %d", maxFreeTextLength, len(got))
	}
}
