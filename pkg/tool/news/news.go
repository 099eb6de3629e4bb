// Package news provides the news search capability used by the news analyst.
package news

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/smkhb/Stock-Agent/pkg/tool"
)

// ToolName is the capability name shown to the model.
const ToolName = "news_search"

// DefaultCount is the number of results returned when the model does not ask for one.
const DefaultCount = 10

const maxCount = 50

// Article is one search hit.
type Article struct {
	Title     string `json:"title" yaml:"title"`
	Summary   string `json:"summary" yaml:"summary"`
	Source    string `json:"source" yaml:"source"`
	URL       string `json:"url,omitempty" yaml:"url"`
	Published string `json:"published,omitempty" yaml:"published"`
}

// Source searches news articles.
type Source interface {
	Search(ctx context.Context, query string, count int) ([]Article, error)
}

// Args are the capability arguments.
type Args struct {
	Query string `json:"query" jsonschema:"required,description=Search terms such as a ticker or company name"`
	Count int    `json:"count,omitempty" jsonschema:"description=Maximum number of results,default=10,minimum=1,maximum=50"`
}

// NewCapability builds the news search capability over src.
func NewCapability(src Source) (tool.Capability, error) {
	if src == nil {
		return nil, fmt.Errorf("news source is required")
	}
	return tool.NewWithValidation(
		tool.Config{
			Name:        ToolName,
			Description: "Searches recent news and returns an ordered list of headline, summary and source.",
			Tags:        []string{"news", "search", "headlines", "sentiment", "market"},
		},
		func(ctx context.Context, args Args) (any, error) {
			count := args.Count
			if count == 0 {
				count = DefaultCount
			}
			return src.Search(ctx, strings.TrimSpace(args.Query), count)
		},
		func(args Args) error {
			if args.Count < 0 || args.Count > maxCount {
				return fmt.Errorf("count must be between 1 and %d", maxCount)
			}
			return nil
		},
	)
}

// FixtureSource matches queries against an in-memory article list. An article
// matches when its title or summary contains any query term, case-insensitively.
type FixtureSource struct {
	mu       sync.RWMutex
	articles []Article
}

type fixtureFile struct {
	Articles []Article `yaml:"articles"`
}

// NewFixtureSource builds a source over articles, kept in the given order.
func NewFixtureSource(articles ...Article) *FixtureSource {
	return &FixtureSource{articles: append([]Article(nil), articles...)}
}

// LoadFixtureFile reads a fixture file of the form {articles: [...]}.
func LoadFixtureFile(path string) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read news fixture: %w", err)
	}
	src, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// ParseFixture decodes fixture data of the form {articles: [...]}.
func ParseFixture(data []byte) (*FixtureSource, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse news fixture: %w", err)
	}
	return NewFixtureSource(f.Articles...), nil
}

// Search implements Source.
func (s *FixtureSource) Search(ctx context.Context, query string, count int) ([]Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Article
	for _, a := range s.articles {
		if len(out) >= count {
			break
		}
		text := strings.ToLower(a.Title + " " + a.Summary)
		for _, term := range terms {
			if strings.Contains(text, term) {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}
