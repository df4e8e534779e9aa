package assistant

import "testing"

func TestSpeechText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure 😊 **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the docs](https://example.com/docs) first.",
			want: "Read the docs first.",
		},
		{
			name: "removes code blocks and inline code",
			in:   "```bash\nnpm run dev\n```\nThen run `make test` ✅",
			want: "Then run",
		},
		{
			name: "strips list markers",
			in:   "Try these:\n- a walk\n2. some tea",
			want: "Try these: a walk some tea",
		},
		{
			name: "speaks ampersands",
			in:   "salt & pepper",
			want: "salt and pepper",
		},
		{
			name: "empty",
			in:   "   ",
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SpeechText(tc.in); got != tc.want {
				t.Fatalf("SpeechText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
