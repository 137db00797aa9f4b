package discord

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateText(t *testing.T) {
	t.Parallel()

	short := "hello"
	assert.Equal(t, short, truncateText(short))

	long := strings.Repeat("あ", discordMaxLength+50)
	got := truncateText(long)
	assert.True(t, utf8.ValidString(got), "truncation must not split a multi-byte character")
	assert.Equal(t, strings.Repeat("あ", discordMaxLength-3)+"...", got)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), discordMaxLength)
}
