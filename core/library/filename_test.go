package library

import "testing"

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantTitle string
		wantID    string
	}{
		{
			name:      "triple dash form",
			input:     "Never Gonna Give You Up---dQw4w9WgXcQ.mp4",
			wantTitle: "Never Gonna Give You Up",
			wantID:    "dQw4w9WgXcQ",
		},
		{
			name:      "bracket form",
			input:     "Never Gonna Give You Up [dQw4w9WgXcQ].mp4",
			wantTitle: "Never Gonna Give You Up",
			wantID:    "dQw4w9WgXcQ",
		},
		{
			name:      "full path is reduced to base name",
			input:     "/data/songs/Take On Me---a-_0123456Z.mkv",
			wantTitle: "Take On Me",
			wantID:    "a-_0123456Z",
		},
		{
			name:      "title containing dashes keeps last separator",
			input:     "Up---Down---dQw4w9WgXcQ.mp4",
			wantTitle: "Up---Down",
			wantID:    "dQw4w9WgXcQ",
		},
		{
			name:      "id starting with dashes",
			input:     "Title----abcdefghij.mp4",
			wantTitle: "Title",
			wantID:    "-abcdefghij",
		},
		{
			name:      "id too short fails closed",
			input:     "Some Song---short.mp4",
			wantTitle: "Some Song---short",
			wantID:    "",
		},
		{
			name:      "id too long fails closed",
			input:     "Some Song [dQw4w9WgXcQQ].mp4",
			wantTitle: "Some Song [dQw4w9WgXcQQ]",
			wantID:    "",
		},
		{
			name:      "invalid characters fail closed",
			input:     "Some Song---dQw4w9Wg+cQ.mp4",
			wantTitle: "Some Song---dQw4w9Wg+cQ",
			wantID:    "",
		},
		{
			name:      "plain name has no id",
			input:     "Bohemian Rhapsody.mp4",
			wantTitle: "Bohemian Rhapsody",
			wantID:    "",
		},
		{
			name:      "bracket not at end fails closed",
			input:     "Some [dQw4w9WgXcQ] Song.mp4",
			wantTitle: "Some [dQw4w9WgXcQ] Song",
			wantID:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, id := ParseFilename(tt.input)
			if title != tt.wantTitle {
				t.Errorf("title = %q, want %q", title, tt.wantTitle)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
		})
	}
}

func TestFormatFilenameRoundTrip(t *testing.T) {
	name := FormatFilename("Take On Me", "a-_0123456Z", ".mp4")
	if name != "Take On Me---a-_0123456Z.mp4" {
		t.Fatalf("unexpected formatted name %q", name)
	}
	title, id := ParseFilename(name)
	if title != "Take On Me" || id != "a-_0123456Z" {
		t.Errorf("round trip gave (%q, %q)", title, id)
	}

	// Ids may begin with dashes; the separator must not absorb them.
	name = FormatFilename("Title", "-abcdefghij", ".mp4")
	title, id = ParseFilename(name)
	if title != "Title" || id != "-abcdefghij" {
		t.Errorf("leading-dash round trip gave (%q, %q)", title, id)
	}
}

func TestSplitArtist(t *testing.T) {
	tests := []struct {
		input      string
		wantArtist string
		wantSong   string
	}{
		{"Queen - Bohemian Rhapsody", "Queen", "Bohemian Rhapsody"},
		{"Bohemian Rhapsody", "", "Bohemian Rhapsody"},
		{"A - B - C", "A", "B - C"},
		{"No-Separator-Here", "", "No-Separator-Here"},
	}
	for _, tt := range tests {
		artist, song := SplitArtist(tt.input)
		if artist != tt.wantArtist || song != tt.wantSong {
			t.Errorf("SplitArtist(%q) = (%q, %q), want (%q, %q)",
				tt.input, artist, song, tt.wantArtist, tt.wantSong)
		}
	}
}
