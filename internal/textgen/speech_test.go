package textgen

import "testing"

func TestSpeakableText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and emphasis",
			in:   "Sure \U0001F60A **this one** is lovely.",
			want: "Sure this one is lovely.",
		},
		{
			name: "keeps link label and removes bare urls",
			in:   "See [the notes](https://example.com/notes) or www.example.com first.",
			want: "See the notes or first.",
		},
		{
			name: "drops fenced code and keeps inline code text",
			in:   "```\nspray twice\n```\nThen wait `ten` seconds",
			want: "Then wait ten seconds",
		},
		{
			name: "joins wrapped prose",
			in:   "  Rain   In\nThe Hills.  ",
			want: "Rain In The Hills.",
		},
		{
			name: "list items and headings become sentences",
			in:   "## Top picks\n- Rain In The Hills\n- Citrus Dawn!\n1. Amber Night",
			want: "Top picks. Rain In The Hills. Citrus Dawn! Amber Night.",
		},
		{
			name: "keeps symbols that are spoken",
			in:   "Call +65 6123 4567, save 20% at R&D, from $40 or 35€.",
			want: "Call +65 6123 4567, save 20% at R&D, from $40 or 35€.",
		},
		{
			name: "keycap and joined emoji leave no residue",
			in:   "Step 1\ufe0f\u20e3 \U0001F469\u200d\U0001F52C done",
			want: "Step 1 done",
		},
		{
			name: "empty",
			in:   "  \n ",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SpeakableText(tc.in); got != tc.want {
				t.Fatalf("SpeakableText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
