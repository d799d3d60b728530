package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"feedsync/internal/utils/text"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "paragraphs",
			input: "<p>Hello <b>world</b></p>\n<p>Second   line</p>",
			want:  "Hello world Second line",
		},
		{
			name:  "script and style removed",
			input: `<div>Keep<script>alert("x")</script><style>p{}</style> this</div>`,
			want:  "Keep this",
		},
		{
			name:  "entities decoded",
			input: "Fish &amp; chips",
			want:  "Fish & chips",
		},
		{
			name:  "plain text passes through",
			input: "  already plain\ttext ",
			want:  "already plain text",
		},
		{
			name:  "blank",
			input: "   ",
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, text.PlainText(tt.input))
		})
	}
}
