package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{
			name:  "strips episode tokens and junk",
			title: "Mercy For None (2025) S01E01-E09 [Tamil + Telugu] 1080p WEB-DL",
			want:  "mercy for none",
		},
		{
			name:  "strips season pack markers",
			title: "Great Show Season 2 Complete 720p",
			want:  "great show",
		},
		{
			name:  "separators collapse",
			title: "Great.Show.S01.1080p.x265",
			want:  "great show",
		},
		{
			name:  "case folds",
			title: "GREAT SHOW",
			want:  "great show",
		},
		{
			name:  "empty when nothing usable",
			title: "",
			want:  "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, Normalize(tc.title))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	titles := []string{
		"Mercy For None (2025) S01E01-E09 [Tamil] 1080p",
		"Great.Show.S02.Complete.720p",
		"already lowered title",
		"Unicode Göteborg Café S01",
	}
	for _, title := range titles {
		once := Normalize(title)
		require.Equal(t, once, Normalize(once), "title %q", title)
	}
}

func TestExtractYear(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2025, ExtractYear("Mercy For None (2025) S01E01 1080p"))
	require.Equal(t, 0, ExtractYear("Great Show S01E01 1080p"))
}
