// Package llm turns a heading outline into a Markdown article using a hosted
// language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/seoforge/backend/internal/domain"
)

// ErrEmptyCompletion is returned when the provider answers without text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Generator produces article Markdown for a heading outline.
type Generator interface {
	Generate(ctx context.Context, tree *domain.HeadingTree) (string, error)
}

// BuildPrompt renders the article brief sent to the model.
func BuildPrompt(tree *domain.HeadingTree) string {
	var b strings.Builder

	b.WriteString("You are an SEO expert and web copywriter. Write a new article based on these SEO elements:\n\n")
	fmt.Fprintf(&b, "H1: %s\n", tree.H1)
	fmt.Fprintf(&b, "H2s: %s\n", strings.Join(tree.H2s, ", "))
	fmt.Fprintf(&b, "H3s: %s\n\n", strings.Join(tree.H3s, ", "))

	b.WriteString(`Requirements:
1. Use the SEO elements naturally and where they are relevant.
2. The content must be unique, original and in-depth.
3. Structure: a compelling introduction, one section per H2, sub-sections for the H3s, and a strong conclusion.
4. At least 1500 words.
5. Work relevant keywords in naturally, never forced.
6. Informative and engaging, with real value for the reader.
7. At most 3 bulleted lists, one table, at most one notable and verifiable quote, and always a FAQ section.
8. Professional but accessible tone.
9. Every paragraph carries substantial text; never a heading followed by a single sentence.
10. Put important keywords in bold and keep the prose natural and human.
11. At least 5 H2 sections; invent coherent ones if fewer were given, each with at least three lines of text. Every H2 except the conclusion and the FAQ has 2 to 4 H3s.
12. Write in the language of the H1.
13. Return only the article, without any comment of your own.

Format the article as Markdown with correct heading levels (# for H1, ## for H2, ### for H3).`)

	return b.String()
}
