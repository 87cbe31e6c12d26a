package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/errors"
)

func TestSanitizeContent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"script block removed", `before<script>alert("xss")</script>after`, "beforeafter"},
		{"script with attributes", `<script type="text/javascript">evil()</script>ok`, "ok"},
		{"multiline script", "a<script>\nevil()\n</script>b", "ab"},
		{"tags stripped", "<b>bold</b> and <i>italic</i>", "bold and italic"},
		{"whitespace trimmed", "  padded  ", "padded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeContent(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeContent_EmptyAfterCleaning(t *testing.T) {
	req := require.New(t)

	for _, input := range []string{"", "   ", "<b></b>", "<script>x()</script>"} {
		_, err := SanitizeContent(input)
		req.ErrorIs(err, errors.ErrEmptyMessage, "input %q", input)
	}
}

func TestSanitizeContent_CapsLength(t *testing.T) {
	req := require.New(t)

	long := strings.Repeat("é", MaxContentLength+50)
	got, err := SanitizeContent(long)
	req.NoError(err)
	req.Len([]rune(got), MaxContentLength)
}
