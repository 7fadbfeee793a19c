package models

// Chunk is a bounded span of extracted paper text, the unit of retrieval.
// Source is the filename of the originating PDF; Order is the chunk's
// position within that file.
type Chunk struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Order  int    `json:"order"`
	Text   string `json:"text"`
}

// Snippet returns up to n runes of the chunk text with whitespace
// flattened, for citation display.
func (c Chunk) Snippet(n int) string {
	out := make([]rune, 0, n)
	truncated := false
	for _, r := range c.Text {
		if len(out) >= n {
			truncated = true
			break
		}
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		out = append(out, r)
	}
	if truncated {
		return string(out) + "..."
	}
	return string(out)
}
