package capture

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Fingerprint computes a deterministic digest of what the reader currently
// displays. It hashes a normalized DOM representation (element skeleton
// plus collapsed text) rather than raw pixels, because pixel capture is
// sensitive to rendering timing noise (animations, cursor blink) and
// produces false "changed" signals. Pure function: identical normalized
// content always yields the identical digest.
func Fingerprint(snapshot []byte) string {
	doc, err := html.Parse(bytes.NewReader(snapshot))
	if err != nil {
		sum := sha256.Sum256(snapshot)
		return hex.EncodeToString(sum[:16])
	}

	var b strings.Builder
	writeNormalized(&b, doc, 0)
	sum := sha256.Sum256([]byte(b.String()))
	// 128 bits is enough to tell two renderings of a document apart.
	return hex.EncodeToString(sum[:16])
}

// writeNormalized serialises tag structure with nesting depth, the
// content-bearing attributes, and whitespace-collapsed text. Scripts,
// styles and volatile presentation attributes are excluded: they churn
// without the displayed content changing.
func writeNormalized(b *strings.Builder, n *html.Node, depth int) {
	switch n.Type {
	case html.ElementNode:
		if skipElement(n.DataAtom) {
			return
		}
		fmt.Fprintf(b, "%d:%s;", depth, strings.ToLower(n.Data))
		for _, a := range n.Attr {
			switch a.Key {
			case "src", "href", "srcset", "alt":
				fmt.Fprintf(b, "@%s=%s;", a.Key, a.Val)
			}
		}
		depth++
	case html.TextNode:
		if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
			b.WriteString("t:")
			b.WriteString(t)
			b.WriteByte(';')
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNormalized(b, c, depth)
	}
}

func skipElement(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return true
	}
	return false
}
